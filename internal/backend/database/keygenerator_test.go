package database

import "testing"

func TestContentID(t *testing.T) {
	a := ContentID([]byte("image-a"))
	b := ContentID([]byte("image-b"))

	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d (%q)", len(a), a)
	}
	if a == b {
		t.Fatal("different content must produce different IDs")
	}
	if a != ContentID([]byte("image-a")) {
		t.Fatal("same content must produce the same ID")
	}
	// sha256("") is well known
	if got := ContentID(nil); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("ContentID(nil) = %s", got)
	}
}
