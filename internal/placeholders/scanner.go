// Package placeholders finds placeholder art and placeholder text that must
// not ship: flat or tiny images, temp-named files and TODO style markers.
package placeholders

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/jo-hoe/tgforge/internal/common"
	"github.com/jo-hoe/tgforge/internal/quality"
)

var (
	placeholderNameRe   = regexp.MustCompile(`(?i)(placeholder|temp|todo|dummy|wip|untitled)`)
	placeholderMarkerRe = regexp.MustCompile(`(?i)\b(placeholder|lorem ipsum|tbd|todo|fixme|coming soon)\b`)

	defaultTextExtensions = []string{".md", ".txt", ".json", ".yaml", ".yml", ".ini"}
)

// Kind classifies a finding.
type Kind string

const (
	KindUniformImage Kind = "uniform_image"
	KindFewColors    Kind = "few_colors"
	KindTinyImage    Kind = "tiny_image"
	KindFileName     Kind = "file_name"
	KindTextMarker   Kind = "text_marker"
	KindUnreadable   Kind = "unreadable"
)

// Finding is one placeholder hit. Line is 0 for non-text findings.
type Finding struct {
	Path   string `json:"path"`
	Line   int    `json:"line,omitempty"`
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
}

func (f Finding) String() string {
	if f.Line > 0 {
		return fmt.Sprintf("%s:%d: %s (%s)", f.Path, f.Line, f.Detail, f.Kind)
	}
	return fmt.Sprintf("%s: %s (%s)", f.Path, f.Detail, f.Kind)
}

// Report is the result of a scan.
type Report struct {
	ImagesScanned int       `json:"images_scanned"`
	FilesScanned  int       `json:"files_scanned"`
	Findings      []Finding `json:"findings"`
}

// Failed reports whether any placeholder was found.
func (r Report) Failed() bool {
	return len(r.Findings) > 0
}

// Scanner holds the placeholder heuristics.
type Scanner struct {
	UniformStdDev   float64
	MaxFlatColors   int
	MinSide         int
	ImageExtensions []string
	TextExtensions  []string
	analyzer        *quality.Analyzer
}

// NewScanner returns a scanner with the default heuristics.
func NewScanner() *Scanner {
	return &Scanner{
		UniformStdDev:   4,
		MaxFlatColors:   2,
		MinSide:         64,
		ImageExtensions: quality.DefaultExtensions,
		TextExtensions:  defaultTextExtensions,
		analyzer:        quality.NewAnalyzer(),
	}
}

// Scan walks root and reports findings sorted by path and line.
func (s *Scanner) Scan(ctx context.Context, root string) (Report, error) {
	var report Report
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		switch {
		case quality.HasExtension(path, s.ImageExtensions):
			report.ImagesScanned++
			report.Findings = append(report.Findings, s.CheckImageFile(path)...)
		case quality.HasExtension(path, s.TextExtensions):
			report.FilesScanned++
			findings, err := s.CheckTextFile(path)
			if err != nil {
				report.Findings = append(report.Findings, Finding{Path: path, Kind: KindUnreadable, Detail: err.Error()})
				return nil
			}
			report.Findings = append(report.Findings, findings...)
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("placeholder scan of %s failed: %w", root, err)
	}

	sort.SliceStable(report.Findings, func(i, j int) bool {
		a, b := report.Findings[i], report.Findings[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Line < b.Line
	})

	slog.Info("placeholders: scan complete",
		"root", root,
		"images", report.ImagesScanned,
		"text_files", report.FilesScanned,
		"findings", len(report.Findings))
	return report, nil
}

// CheckImageFile applies the name and pixel heuristics to one image file.
func (s *Scanner) CheckImageFile(path string) []Finding {
	var findings []Finding
	base := filepath.Base(path)
	if m := placeholderNameRe.FindString(base); m != "" {
		findings = append(findings, Finding{Path: path, Kind: KindFileName, Detail: fmt.Sprintf("file name contains %q", m)})
	}

	img, _, err := quality.DecodeFile(path)
	if err != nil {
		return append(findings, Finding{Path: path, Kind: KindUnreadable, Detail: err.Error()})
	}
	return append(findings, s.CheckImage(path, img)...)
}

// CheckImage applies the pixel heuristics to a decoded image.
func (s *Scanner) CheckImage(path string, img image.Image) []Finding {
	var findings []Finding
	b := img.Bounds()
	if b.Dx() < s.MinSide || b.Dy() < s.MinSide {
		findings = append(findings, Finding{Path: path, Kind: KindTinyImage,
			Detail: fmt.Sprintf("%dx%d smaller than %dpx", b.Dx(), b.Dy(), s.MinSide)})
	}
	if b.Empty() {
		return findings
	}

	m := s.analyzer.Analyze(img)
	if m.Contrast < s.UniformStdDev {
		findings = append(findings, Finding{Path: path, Kind: KindUniformImage,
			Detail: fmt.Sprintf("luma stddev %.2f below %.2f", m.Contrast, s.UniformStdDev)})
		return findings
	}
	if n := sampledColors(img, s.MaxFlatColors+1); n <= s.MaxFlatColors {
		findings = append(findings, Finding{Path: path, Kind: KindFewColors,
			Detail: fmt.Sprintf("only %d distinct colours", n)})
	}
	return findings
}

// CheckTextFile reports marker matches per line.
func (s *Scanner) CheckTextFile(path string) ([]Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var findings []Finding
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if m := placeholderMarkerRe.FindString(sc.Text()); m != "" {
			findings = append(findings, Finding{Path: path, Line: line, Kind: KindTextMarker,
				Detail: fmt.Sprintf("contains marker %q", m)})
		}
	}
	return findings, sc.Err()
}

// sampledColors counts distinct colours on a grid of up to 64x64 samples,
// stopping once limit is reached.
func sampledColors(img image.Image, limit int) int {
	b := img.Bounds()
	stepX := int(math.Max(1, float64(b.Dx())/64))
	stepY := int(math.Max(1, float64(b.Dy())/64))
	rows := (b.Dy() + stepY - 1) / stepY

	var mu sync.Mutex
	seen := make(map[[4]uint32]struct{})
	common.ParallelForStop(rows, func(i int) bool {
		y := b.Min.Y + i*stepY
		local := make(map[[4]uint32]struct{})
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, a := img.At(x, y).RGBA()
			local[[4]uint32{r, g, bl, a}] = struct{}{}
		}
		mu.Lock()
		defer mu.Unlock()
		for c := range local {
			seen[c] = struct{}{}
		}
		return len(seen) >= limit
	})
	return len(seen)
}
