// Package testutil builds deterministic images for tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// Uniform returns a w x h image filled with a single grey level.
func Uniform(w, h int, level uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = level
		img.Pix[i+1] = level
		img.Pix[i+2] = level
		img.Pix[i+3] = 255
	}
	return img
}

// Blocks returns a w x h image of block x block tiles with mid-range grey
// levels in [60, 200]. Adjacent tiles always differ by at least 37 levels,
// which yields a sharp, well-exposed image with moderate edge density.
func Blocks(w, h, block int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bx, by := x/block, y/block
			v := uint8(60 + (bx*37+by*91)%141)
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

// Checkerboard returns a black and white checkerboard with square cells.
func Checkerboard(w, h, cell int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(0)
			if (x/cell+y/cell)%2 == 0 {
				v = 255
			}
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

// EncodePNG encodes img or fails the test.
func EncodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// WritePNG encodes img to dir/name and returns the full path.
func WritePNG(t testing.TB, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, EncodePNG(t, img), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}
