package commands

import (
	"fmt"
	"image"
	"image/draw"
	"log/slog"

	"github.com/jo-hoe/tgforge/internal/backend/commandstructure"
	"github.com/jo-hoe/tgforge/internal/common"
)

// CropParams describe a crop window. Anchor positions the window: center,
// top, bottom, left or right.
type CropParams struct {
	Width  int
	Height int
	Anchor string
}

func NewCropParamsFromMap(params map[string]any) (*CropParams, error) {
	if err := commandstructure.ValidateRequiredParams(params, []string{"width", "height"}); err != nil {
		return nil, err
	}
	p := &CropParams{
		Width:  commandstructure.GetIntParam(params, "width", 0),
		Height: commandstructure.GetIntParam(params, "height", 0),
		Anchor: commandstructure.GetStringParam(params, "anchor", "center"),
	}
	if err := requirePositive("width", p.Width); err != nil {
		return nil, err
	}
	if err := requirePositive("height", p.Height); err != nil {
		return nil, err
	}
	switch p.Anchor {
	case "center", "top", "bottom", "left", "right":
	default:
		return nil, fmt.Errorf("unknown crop anchor %q", p.Anchor)
	}
	return p, nil
}

// CropCommand cuts a window out of the image. Windows larger than the
// image are clamped to it.
type CropCommand struct {
	params *CropParams
}

func NewCropCommand(params map[string]any) (commandstructure.Command, error) {
	p, err := NewCropParamsFromMap(params)
	if err != nil {
		return nil, err
	}
	return &CropCommand{params: p}, nil
}

func (c *CropCommand) Name() string {
	return "CropCommand"
}

func (c *CropCommand) Params() CropParams {
	return *c.params
}

func (c *CropCommand) Execute(imageData []byte) ([]byte, error) {
	img, err := decodeImage(imageData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	window := cropWindow(img.Bounds(), c.params.Width, c.params.Height, c.params.Anchor)
	slog.Debug("CropCommand: cropping",
		"source_width", img.Bounds().Dx(),
		"source_height", img.Bounds().Dy(),
		"window", window.String())

	dst := image.NewRGBA(image.Rect(0, 0, window.Dx(), window.Dy()))
	common.ParallelFor(window.Dy(), func(y int) {
		row := image.Rect(0, y, window.Dx(), y+1)
		draw.Draw(dst, row, img, image.Pt(window.Min.X, window.Min.Y+y), draw.Src)
	})
	return encodePNG(dst)
}

func cropWindow(b image.Rectangle, w, h int, anchor string) image.Rectangle {
	w = min(w, b.Dx())
	h = min(h, b.Dy())
	x0 := b.Min.X + (b.Dx()-w)/2
	y0 := b.Min.Y + (b.Dy()-h)/2
	switch anchor {
	case "top":
		y0 = b.Min.Y
	case "bottom":
		y0 = b.Max.Y - h
	case "left":
		x0 = b.Min.X
	case "right":
		x0 = b.Max.X - w
	}
	return image.Rect(x0, y0, x0+w, y0+h)
}

func init() {
	register("CropCommand", NewCropCommand)
}
