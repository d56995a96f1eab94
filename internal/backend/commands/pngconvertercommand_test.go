package commands

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/jo-hoe/tgforge/internal/backend/commandstructure"
	"github.com/jo-hoe/tgforge/internal/testutil"
)

const emblemSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="64" height="32" viewBox="0 0 64 32">
  <rect x="0" y="0" width="64" height="32" fill="#ff0000"/>
</svg>`

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	return img
}

func TestPngConverterCommand_PassesPNGThrough(t *testing.T) {
	cmd, err := NewPngConverterCommand(map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	in := testutil.EncodePNG(t, testutil.Blocks(8, 8, 2))
	out, err := cmd.Execute(in)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Error("PNG input should be returned unchanged")
	}
}

func TestPngConverterCommand_ConvertsJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testutil.Blocks(16, 12, 4), nil); err != nil {
		t.Fatal(err)
	}
	cmd, _ := NewPngConverterCommand(map[string]any{})
	out, err := cmd.Execute(buf.Bytes())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if b := decodePNG(t, out).Bounds(); b.Dx() != 16 || b.Dy() != 12 {
		t.Errorf("size = %v", b)
	}
}

func TestPngConverterCommand_RendersSVG(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		svg    string
		w, h   int
	}{
		{"explicit size", map[string]any{}, emblemSVG, 64, 32},
		{"override size", map[string]any{"svgWidth": 128, "svgHeight": 64}, emblemSVG, 128, 64},
		{"viewBox only", map[string]any{}, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 40 20"><rect width="40" height="20" fill="#0000ff"/></svg>`, 40, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := NewPngConverterCommand(tt.params)
			if err != nil {
				t.Fatal(err)
			}
			out, err := cmd.Execute([]byte(tt.svg))
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			img := decodePNG(t, out)
			if b := img.Bounds(); b.Dx() != tt.w || b.Dy() != tt.h {
				t.Fatalf("size = %v, want %dx%d", b, tt.w, tt.h)
			}
			_, _, _, a := img.At(tt.w/2, tt.h/2).RGBA()
			if a == 0 {
				t.Error("center pixel should be painted")
			}
		})
	}
}

func TestPngConverterCommand_Errors(t *testing.T) {
	if _, err := NewPngConverterCommand(map[string]any{"svgWidth": 10}); err == nil {
		t.Error("expected error when only one SVG dimension is set")
	}
	cmd, _ := NewPngConverterCommand(map[string]any{})
	if _, err := cmd.Execute([]byte("not an image")); err == nil {
		t.Error("expected decode error")
	}
	if _, err := cmd.Execute([]byte(`<svg xmlns="http://www.w3.org/2000/svg"><rect/></svg>`)); err == nil {
		t.Error("expected error for SVG without size")
	}
}

func TestScaleCommand(t *testing.T) {
	src := testutil.EncodePNG(t, testutil.Blocks(200, 100, 10))
	tests := []struct {
		mode   string
		opaque image.Point
		clear  image.Point
	}{
		{"fit", image.Pt(50, 50), image.Pt(50, 5)},
		{"fill", image.Pt(50, 5), image.Pt(-1, -1)},
		{"stretch", image.Pt(50, 5), image.Pt(-1, -1)},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cmd, err := NewScaleCommand(map[string]any{"width": 100, "height": 100, "mode": tt.mode})
			if err != nil {
				t.Fatal(err)
			}
			out, err := cmd.Execute(src)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			img := decodePNG(t, out)
			if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 100 {
				t.Fatalf("size = %v", b)
			}
			if _, _, _, a := img.At(tt.opaque.X, tt.opaque.Y).RGBA(); a == 0 {
				t.Errorf("pixel %v should be covered", tt.opaque)
			}
			if tt.clear.X >= 0 {
				if _, _, _, a := img.At(tt.clear.X, tt.clear.Y).RGBA(); a != 0 {
					t.Errorf("pixel %v should be letterboxed", tt.clear)
				}
			}
		})
	}
}

func TestScaleCommand_Params(t *testing.T) {
	bad := []map[string]any{
		{"width": 10},
		{"width": 0, "height": 10},
		{"width": 10, "height": 10, "mode": "zoom"},
		{"width": 10, "height": 10, "background": "#zz0000"},
	}
	for _, p := range bad {
		if _, err := NewScaleCommand(p); err == nil {
			t.Errorf("expected error for %v", p)
		}
	}
	cmd, err := NewScaleCommand(map[string]any{"width": 4, "height": 4, "background": "#102030"})
	if err != nil {
		t.Fatal(err)
	}
	if got := cmd.(*ScaleCommand).Params().Background; got != (color.RGBA{0x10, 0x20, 0x30, 0xff}) {
		t.Errorf("background = %v", got)
	}
}

func TestCropCommand(t *testing.T) {
	src := testutil.Blocks(100, 60, 10)
	tests := []struct {
		anchor string
		w, h   int
		origin image.Point
	}{
		{"center", 40, 20, image.Pt(30, 20)},
		{"top", 40, 20, image.Pt(30, 0)},
		{"right", 40, 20, image.Pt(60, 20)},
		{"center", 500, 500, image.Pt(0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.anchor, func(t *testing.T) {
			cmd, err := NewCropCommand(map[string]any{"width": tt.w, "height": tt.h, "anchor": tt.anchor})
			if err != nil {
				t.Fatal(err)
			}
			out, err := cmd.Execute(testutil.EncodePNG(t, src))
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			img := decodePNG(t, out)
			wantW, wantH := min(tt.w, 100), min(tt.h, 60)
			if b := img.Bounds(); b.Dx() != wantW || b.Dy() != wantH {
				t.Fatalf("size = %v", b)
			}
			if img.At(0, 0) != color.Color(src.RGBAAt(tt.origin.X, tt.origin.Y)) {
				t.Errorf("top-left pixel does not match source at %v", tt.origin)
			}
		})
	}
	if _, err := NewCropCommand(map[string]any{"width": 1, "height": 1, "anchor": "middle"}); err == nil {
		t.Error("expected error for unknown anchor")
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"ScaleCommand", "CropCommand", "PngConverterCommand"} {
		if !commandstructure.DefaultRegistry.IsRegistered(name) {
			t.Errorf("%s is not registered", name)
		}
	}
	out, err := commandstructure.ExecuteCommands([]byte(emblemSVG), []commandstructure.CommandConfig{
		{Name: "PngConverterCommand"},
		{Name: "ScaleCommand", Params: map[string]any{"width": 32, "height": 32}},
		{Name: "CropCommand", Params: map[string]any{"width": 16, "height": 16}},
	})
	if err != nil {
		t.Fatalf("ExecuteCommands() error = %v", err)
	}
	if b := decodePNG(t, out).Bounds(); b.Dx() != 16 || b.Dy() != 16 {
		t.Errorf("size = %v", b)
	}
}
