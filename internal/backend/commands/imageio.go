// Package commands implements the export pipeline steps. Each command
// registers itself in commandstructure.DefaultRegistry.
package commands

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	"github.com/jo-hoe/tgforge/internal/backend/commandstructure"
	"github.com/jo-hoe/tgforge/internal/quality"
)

func register(name string, factory commandstructure.CommandFactory) {
	if err := commandstructure.DefaultRegistry.Register(name, factory); err != nil {
		panic(fmt.Sprintf("failed to register %s: %v", name, err))
	}
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := quality.Decode(data)
	return img, err
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	b := img.Bounds()
	buf.Grow(b.Dx() * b.Dy())
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newCanvas(w, h int, bg color.Color) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if bg != nil {
		draw.Draw(dst, dst.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)
	}
	return dst
}

// parseHexColor parses #rgb, #rrggbb and #rrggbbaa. An empty string is
// transparent.
func parseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" || strings.EqualFold(s, "transparent") {
		return color.RGBA{}, nil
	}
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func requirePositive(name string, v int) error {
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, v)
	}
	return nil
}
