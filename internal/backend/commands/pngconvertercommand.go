package commands

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jo-hoe/tgforge/internal/backend/commandstructure"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

func hasPNGSignature(data []byte) bool {
	return bytes.HasPrefix(data, pngSignature)
}

// PngConverterCommand normalises any supported raster format or SVG to PNG.
// SVGs render at Width x Height when set, otherwise at their own
// width/height attributes, otherwise at their viewBox size.
type PngConverterCommand struct {
	Width      int
	Height     int
	Background color.Color
}

func NewPngConverterCommand(params map[string]any) (commandstructure.Command, error) {
	c := &PngConverterCommand{
		Width:  commandstructure.GetIntParam(params, "svgWidth", 0),
		Height: commandstructure.GetIntParam(params, "svgHeight", 0),
	}
	if (c.Width > 0) != (c.Height > 0) {
		return nil, errors.New("svgWidth and svgHeight must be set together")
	}
	if bg := commandstructure.GetStringParam(params, "background", ""); bg != "" {
		rgba, err := parseHexColor(bg)
		if err != nil {
			return nil, err
		}
		c.Background = rgba
	}
	return c, nil
}

func (c *PngConverterCommand) Name() string {
	return "PngConverterCommand"
}

func (c *PngConverterCommand) Execute(imageData []byte) ([]byte, error) {
	if hasPNGSignature(imageData) {
		return imageData, nil
	}
	if isSVG(imageData) {
		return c.RenderSVG(imageData)
	}

	img, err := decodeImage(imageData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return encodePNG(img)
}

// RenderSVG rasterises SVG source to PNG.
func (c *PngConverterCommand) RenderSVG(svgData []byte) ([]byte, error) {
	w, h := c.Width, c.Height
	if w <= 0 || h <= 0 {
		var ok bool
		if w, h, ok = svgSize(svgData); !ok {
			return nil, errors.New("SVG has no usable size; set svgWidth and svgHeight")
		}
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}
	icon.SetTarget(0, 0, float64(w), float64(h))

	dst := newCanvas(w, h, c.Background)
	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)

	slog.Debug("PngConverterCommand: rendered SVG", "width", w, "height", h)
	return encodePNG(dst)
}

func isSVG(data []byte) bool {
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	return bytes.Contains(bytes.ToLower(head), []byte("<svg"))
}

// svgSize reads the root element's width/height, falling back to viewBox.
func svgSize(data []byte) (int, int, bool) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			if err != io.EOF {
				slog.Debug("PngConverterCommand: could not read SVG root", "error", err)
			}
			return 0, 0, false
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "svg" {
			continue
		}
		var w, h float64
		var viewBox string
		for _, a := range start.Attr {
			switch a.Name.Local {
			case "width":
				w = leadingNumber(a.Value)
			case "height":
				h = leadingNumber(a.Value)
			case "viewBox":
				viewBox = a.Value
			}
		}
		if w > 0 && h > 0 {
			return int(w + 0.5), int(h + 0.5), true
		}
		fields := strings.FieldsFunc(viewBox, func(r rune) bool { return r == ' ' || r == ',' })
		if len(fields) == 4 {
			vw, errW := strconv.ParseFloat(fields[2], 64)
			vh, errH := strconv.ParseFloat(fields[3], 64)
			if errW == nil && errH == nil && vw > 0 && vh > 0 {
				return int(vw + 0.5), int(vh + 0.5), true
			}
		}
		return 0, 0, false
	}
}

// leadingNumber parses "512", "512px" or "64.5pt" and ignores percentages.
func leadingNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		return 0
	}
	end := 0
	for end < len(s) && (s[end] == '.' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return v
}

func init() {
	register("PngConverterCommand", NewPngConverterCommand)
}
