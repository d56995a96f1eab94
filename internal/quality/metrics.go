package quality

import (
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/jo-hoe/tgforge/internal/common"
	"golang.org/x/image/draw"
)

const (
	// DefaultMaxAnalysisSide bounds the longest side used for pixel statistics.
	DefaultMaxAnalysisSide = 1024
	// DefaultEdgeMagnitude is the Sobel magnitude above which a pixel counts as an edge.
	DefaultEdgeMagnitude = 100.0

	clipLowLuma  = 2.0
	clipHighLuma = 253.0
)

// Metrics are the deterministic statistics computed for one image.
type Metrics struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Aspect      float64 `json:"aspect"`
	Sharpness   float64 `json:"sharpness"`
	Brightness  float64 `json:"brightness"`
	Contrast    float64 `json:"contrast"`
	ClipLow     float64 `json:"clip_low"`
	ClipHigh    float64 `json:"clip_high"`
	EdgeDensity float64 `json:"edge_density"`
}

// Analyzer computes Metrics. The zero value uses the package defaults.
type Analyzer struct {
	MaxAnalysisSide int
	EdgeMagnitude   float64
}

// NewAnalyzer creates an analyzer with default settings.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		MaxAnalysisSide: DefaultMaxAnalysisSide,
		EdgeMagnitude:   DefaultEdgeMagnitude,
	}
}

// Fingerprint identifies the settings that influence Analyze, so cached
// metrics from different settings are never mixed.
func (a *Analyzer) Fingerprint() string {
	return fmt.Sprintf("s%d-e%g", a.MaxAnalysisSide, a.EdgeMagnitude)
}

// Analyze computes metrics for img. Width and height always describe the
// original image; the pixel statistics may come from a downscaled copy.
func (a *Analyzer) Analyze(img image.Image) Metrics {
	bounds := img.Bounds()
	m := Metrics{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}
	if m.Width == 0 || m.Height == 0 {
		return m
	}
	m.Aspect = float64(m.Width) / float64(m.Height)

	src := a.downscale(img)
	l := newLumaPlane(src)

	m.Brightness, m.Contrast, m.ClipLow, m.ClipHigh = l.exposure()
	m.Sharpness = l.laplacianVariance()
	m.EdgeDensity = l.edgeDensity(a.edgeMagnitude())

	slog.Debug("quality: image analyzed",
		"width", m.Width,
		"height", m.Height,
		"analysis_width", l.w,
		"analysis_height", l.h,
		"sharpness", m.Sharpness,
		"brightness", m.Brightness,
		"edge_density", m.EdgeDensity)

	return m
}

func (a *Analyzer) edgeMagnitude() float64 {
	if a.EdgeMagnitude <= 0 {
		return DefaultEdgeMagnitude
	}
	return a.EdgeMagnitude
}

// downscale returns an RGBA copy of img whose longest side is at most
// MaxAnalysisSide. Smaller images are copied without resampling.
func (a *Analyzer) downscale(img image.Image) *image.RGBA {
	maxSide := a.MaxAnalysisSide
	if maxSide <= 0 {
		maxSide = DefaultMaxAnalysisSide
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}

	if longest <= maxSide {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}

	scale := float64(maxSide) / float64(longest)
	sw := int(math.Max(1, math.Round(float64(w)*scale)))
	sh := int(math.Max(1, math.Round(float64(h)*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, sw, sh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// lumaPlane holds per-pixel luma in [0, 255], row-major.
type lumaPlane struct {
	w, h int
	px   []float64
}

func newLumaPlane(img *image.RGBA) *lumaPlane {
	b := img.Bounds()
	l := &lumaPlane{w: b.Dx(), h: b.Dy()}
	l.px = make([]float64, l.w*l.h)
	common.ParallelFor(l.h, func(y int) {
		row := img.Pix[y*img.Stride : y*img.Stride+l.w*4]
		for x := 0; x < l.w; x++ {
			r := float64(row[x*4])
			g := float64(row[x*4+1])
			bl := float64(row[x*4+2])
			l.px[y*l.w+x] = 0.299*r + 0.587*g + 0.114*bl
		}
	})
	return l
}

func (l *lumaPlane) at(x, y int) float64 {
	return l.px[y*l.w+x]
}

// rowSums accumulates per-row partial sums in parallel and then folds them
// in row order, so results do not depend on scheduling.
func rowSums(rows int, fn func(y int) (sum, sumSq, count float64)) (sum, sumSq, count float64) {
	sums := make([]float64, rows)
	sqs := make([]float64, rows)
	counts := make([]float64, rows)
	common.ParallelFor(rows, func(y int) {
		sums[y], sqs[y], counts[y] = fn(y)
	})
	for y := 0; y < rows; y++ {
		sum += sums[y]
		sumSq += sqs[y]
		count += counts[y]
	}
	return sum, sumSq, count
}

// exposure returns mean luma, luma standard deviation and the fractions of
// clipped shadow and highlight pixels.
func (l *lumaPlane) exposure() (mean, stddev, clipLow, clipHigh float64) {
	n := float64(l.w * l.h)
	sum, sumSq, _ := rowSums(l.h, func(y int) (float64, float64, float64) {
		var s, sq float64
		for x := 0; x < l.w; x++ {
			v := l.at(x, y)
			s += v
			sq += v * v
		}
		return s, sq, 0
	})
	low, high, _ := rowSums(l.h, func(y int) (float64, float64, float64) {
		var lo, hi float64
		for x := 0; x < l.w; x++ {
			v := l.at(x, y)
			if v <= clipLowLuma {
				lo++
			} else if v >= clipHighLuma {
				hi++
			}
		}
		return lo, hi, 0
	})

	mean = sum / n
	stddev = math.Sqrt(math.Max(0, sumSq/n-mean*mean))
	return mean, stddev, low / n, high / n
}

// laplacianVariance is the variance of the 4-neighbour Laplacian over
// interior pixels. Images smaller than 3x3 have no interior and score 0.
func (l *lumaPlane) laplacianVariance() float64 {
	if l.w < 3 || l.h < 3 {
		return 0
	}
	sum, sumSq, n := rowSums(l.h-2, func(i int) (float64, float64, float64) {
		y := i + 1
		var s, sq float64
		for x := 1; x < l.w-1; x++ {
			v := l.at(x, y-1) + l.at(x, y+1) + l.at(x-1, y) + l.at(x+1, y) - 4*l.at(x, y)
			s += v
			sq += v * v
		}
		return s, sq, float64(l.w - 2)
	})
	mean := sum / n
	return math.Max(0, sumSq/n-mean*mean)
}

// edgeDensity is the fraction of interior pixels whose Sobel gradient
// magnitude exceeds threshold.
func (l *lumaPlane) edgeDensity(threshold float64) float64 {
	if l.w < 3 || l.h < 3 {
		return 0
	}
	edges, _, n := rowSums(l.h-2, func(i int) (float64, float64, float64) {
		y := i + 1
		var count float64
		for x := 1; x < l.w-1; x++ {
			gx := (l.at(x+1, y-1) + 2*l.at(x+1, y) + l.at(x+1, y+1)) -
				(l.at(x-1, y-1) + 2*l.at(x-1, y) + l.at(x-1, y+1))
			gy := (l.at(x-1, y+1) + 2*l.at(x, y+1) + l.at(x+1, y+1)) -
				(l.at(x-1, y-1) + 2*l.at(x, y-1) + l.at(x+1, y-1))
			if math.Hypot(gx, gy) > threshold {
				count++
			}
		}
		return count, 0, float64(l.w - 2)
	})
	return edges / n
}
