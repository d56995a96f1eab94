package quality

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultExtensions are the file extensions audited when none are configured.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}

// Decode decodes raster image data in any of the registered formats.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image data")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// DecodeFile reads and decodes the image at path.
func DecodeFile(path string) (image.Image, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	img, _, err := Decode(data)
	if err != nil {
		return nil, data, err
	}
	return img, data, nil
}

// HasExtension reports whether path ends in one of exts (case-insensitive).
func HasExtension(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}
