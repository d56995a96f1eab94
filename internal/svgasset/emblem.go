// Package svgasset renders faction emblems as SVG and PNG placeholder art.
package svgasset

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/go-playground/validator"
	"github.com/jo-hoe/tgforge/internal/backend/commands"
)

// Emblem describes one faction emblem.
type Emblem struct {
	Faction   string `yaml:"faction" json:"faction" validate:"required"`
	Primary   string `yaml:"primary" json:"primary" validate:"required,hexcolor"`
	Secondary string `yaml:"secondary" json:"secondary" validate:"required,hexcolor"`
	Shape     string `yaml:"shape" json:"shape" validate:"required,oneof=circle shield diamond"`
	Size      int    `yaml:"size" json:"size" validate:"gte=16,lte=4096"`
}

// Palettes holds the house colours of the known factions.
var Palettes = map[string][2]string{
	"directorate":        {"#1c3f73", "#c8d2e0"},
	"iron scavengers":    {"#7a4a1e", "#d98c2b"},
	"free77":             {"#2e2e2e", "#e0c341"},
	"corporate hegemony": {"#0f5f5c", "#e8f1f0"},
	"nomad clans":        {"#8a6d3b", "#f0e0b8"},
	"archive keepers":    {"#4b2a66", "#b89ad6"},
	"civic wardens":      {"#2f5d2a", "#dfe8c8"},
}

// NewEmblem fills colours from Palettes and defaults shape and size.
func NewEmblem(faction, shape string, size int) Emblem {
	e := Emblem{Faction: faction, Shape: shape, Size: size}
	if p, ok := Palettes[strings.ToLower(strings.TrimSpace(faction))]; ok {
		e.Primary, e.Secondary = p[0], p[1]
	} else {
		e.Primary, e.Secondary = "#3a3a3a", "#d0d0d0"
	}
	if e.Shape == "" {
		e.Shape = "shield"
	}
	if e.Size == 0 {
		e.Size = 512
	}
	return e
}

var validate = validator.New()

func (e Emblem) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid emblem for %q: %w", e.Faction, err)
	}
	return nil
}

// chevrons is derived from the faction name so each faction keeps the same
// mark between runs.
func (e Emblem) chevrons() int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(e.Faction)))
	return int(h.Sum32()%3) + 1
}

var emblemTemplate = template.Must(template.New("emblem").Parse(`<svg xmlns="http://www.w3.org/2000/svg" width="{{.Size}}" height="{{.Size}}" viewBox="0 0 100 100">
  <title>{{.Faction}}</title>
{{- if eq .Shape "circle"}}
  <circle cx="50" cy="50" r="46" fill="{{.Primary}}" stroke="{{.Secondary}}" stroke-width="4"/>
{{- else if eq .Shape "diamond"}}
  <polygon points="50,4 96,50 50,96 4,50" fill="{{.Primary}}" stroke="{{.Secondary}}" stroke-width="4"/>
{{- else}}
  <path d="M10,8 L90,8 L90,50 C90,74 70,88 50,96 C30,88 10,74 10,50 Z" fill="{{.Primary}}" stroke="{{.Secondary}}" stroke-width="4"/>
{{- end}}
{{- range .Chevrons}}
  <polyline points="28,{{.Top}} 50,{{.Tip}} 72,{{.Top}}" fill="none" stroke="{{$.Secondary}}" stroke-width="7" stroke-linejoin="miter"/>
{{- end}}
</svg>
`))

type chevron struct {
	Top, Tip int
}

// SVG renders the emblem source.
func (e Emblem) SVG() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	n := e.chevrons()
	start := 50 - (n*16)/2 - 4
	rows := make([]chevron, n)
	for i := range rows {
		rows[i] = chevron{Top: start + i*16, Tip: start + i*16 + 14}
	}

	var buf bytes.Buffer
	err := emblemTemplate.Execute(&buf, struct {
		Emblem
		Faction  string
		Chevrons []chevron
	}{Emblem: e, Faction: escapeText(e.Faction), Chevrons: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to render emblem %q: %w", e.Faction, err)
	}
	return buf.Bytes(), nil
}

// PNG rasterises the emblem at its size.
func (e Emblem) PNG() ([]byte, error) {
	src, err := e.SVG()
	if err != nil {
		return nil, err
	}
	conv := &commands.PngConverterCommand{Width: e.Size, Height: e.Size}
	return conv.RenderSVG(src)
}

var fileNameRe = regexp.MustCompile(`[^a-z0-9]+`)

// FileBase is the file name stem used for the emblem, e.g.
// T_Emblem_iron_scavengers.
func (e Emblem) FileBase() string {
	return "T_Emblem_" + strings.Trim(fileNameRe.ReplaceAllString(strings.ToLower(e.Faction), "_"), "_")
}

// Write stores <dir>/<FileBase>.svg and, when withPNG is set, the PNG next
// to it. It returns the written paths.
func (e Emblem) Write(dir string, withPNG bool) ([]string, error) {
	src, err := e.SVG()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	svgPath := filepath.Join(dir, e.FileBase()+".svg")
	if err := os.WriteFile(svgPath, src, 0o644); err != nil {
		return nil, err
	}
	paths := []string{svgPath}
	if !withPNG {
		return paths, nil
	}
	png, err := e.PNG()
	if err != nil {
		return paths, err
	}
	pngPath := filepath.Join(dir, e.FileBase()+".png")
	if err := os.WriteFile(pngPath, png, 0o644); err != nil {
		return paths, err
	}
	return append(paths, pngPath), nil
}

func escapeText(s string) string {
	var buf bytes.Buffer
	template.HTMLEscape(&buf, []byte(s))
	return buf.String()
}
