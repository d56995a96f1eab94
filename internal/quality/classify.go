package quality

import (
	"fmt"
	"math"
	"strings"
)

// Decision is the outcome of classifying an image.
type Decision string

const (
	Keep   Decision = "keep"
	Review Decision = "review"
	Reject Decision = "reject"
)

// ParseDecision parses a decision name case-insensitively.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case Keep, Review, Reject:
		return d, nil
	default:
		return "", fmt.Errorf("unknown decision %q", s)
	}
}

// severity orders decisions so the worst one wins.
func (d Decision) severity() int {
	switch d {
	case Reject:
		return 2
	case Review:
		return 1
	default:
		return 0
	}
}

// Thresholds configure Classify. Fields map one-to-one onto the YAML config.
type Thresholds struct {
	MinWidth  int `yaml:"minWidth" validate:"gte=0"`
	MinHeight int `yaml:"minHeight" validate:"gte=0"`

	SharpnessReject float64 `yaml:"sharpnessReject" validate:"gte=0"`
	SharpnessReview float64 `yaml:"sharpnessReview" validate:"gtefield=SharpnessReject"`

	BrightnessRejectLow  float64 `yaml:"brightnessRejectLow" validate:"gte=0,lte=255"`
	BrightnessReviewLow  float64 `yaml:"brightnessReviewLow" validate:"gtefield=BrightnessRejectLow,lte=255"`
	BrightnessReviewHigh float64 `yaml:"brightnessReviewHigh" validate:"gtefield=BrightnessReviewLow,lte=255"`
	BrightnessRejectHigh float64 `yaml:"brightnessRejectHigh" validate:"gtefield=BrightnessReviewHigh,lte=255"`

	ClipReview float64 `yaml:"clipReview" validate:"gte=0,lte=1"`
	ClipReject float64 `yaml:"clipReject" validate:"gtefield=ClipReview,lte=1"`

	ContrastReview float64 `yaml:"contrastReview" validate:"gte=0"`

	EdgeDensityLow  float64 `yaml:"edgeDensityLow" validate:"gte=0,lte=1"`
	EdgeDensityHigh float64 `yaml:"edgeDensityHigh" validate:"gtefield=EdgeDensityLow,lte=1"`

	AllowedAspects  []float64 `yaml:"allowedAspects" validate:"dive,gt=0"`
	AspectTolerance float64   `yaml:"aspectTolerance" validate:"gte=0"`
}

// DefaultThresholds returns the thresholds used when no configuration is given.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinWidth:             512,
		MinHeight:            512,
		SharpnessReject:      25,
		SharpnessReview:      100,
		BrightnessRejectLow:  15,
		BrightnessReviewLow:  35,
		BrightnessReviewHigh: 220,
		BrightnessRejectHigh: 240,
		ClipReview:           0.05,
		ClipReject:           0.25,
		ContrastReview:       12,
		EdgeDensityLow:       0.01,
		EdgeDensityHigh:      0.30,
		AllowedAspects:       []float64{1, 16.0 / 9.0, 9.0 / 16.0, 4.0 / 3.0, 3.0 / 4.0, 3.0 / 2.0, 2.0 / 3.0},
		AspectTolerance:      0.02,
	}
}

// Classify maps metrics to a decision. Reasons are listed in check order;
// an empty slice means the image passed every check.
func Classify(m Metrics, t Thresholds) (Decision, []string) {
	decision := Keep
	reasons := []string{}
	flag := func(d Decision, format string, args ...any) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
		if d.severity() > decision.severity() {
			decision = d
		}
	}

	if m.Width < t.MinWidth || m.Height < t.MinHeight {
		flag(Reject, "resolution %dx%d below minimum %dx%d", m.Width, m.Height, t.MinWidth, t.MinHeight)
	}

	switch {
	case m.Sharpness < t.SharpnessReject:
		flag(Reject, "sharpness %.1f below reject threshold %.1f", m.Sharpness, t.SharpnessReject)
	case m.Sharpness < t.SharpnessReview:
		flag(Review, "sharpness %.1f below review threshold %.1f", m.Sharpness, t.SharpnessReview)
	}

	switch {
	case m.Brightness < t.BrightnessRejectLow:
		flag(Reject, "brightness %.1f too dark (reject below %.1f)", m.Brightness, t.BrightnessRejectLow)
	case m.Brightness > t.BrightnessRejectHigh:
		flag(Reject, "brightness %.1f too bright (reject above %.1f)", m.Brightness, t.BrightnessRejectHigh)
	case m.Brightness < t.BrightnessReviewLow:
		flag(Review, "brightness %.1f dark (review below %.1f)", m.Brightness, t.BrightnessReviewLow)
	case m.Brightness > t.BrightnessReviewHigh:
		flag(Review, "brightness %.1f bright (review above %.1f)", m.Brightness, t.BrightnessReviewHigh)
	}

	checkClip := func(name string, v float64) {
		switch {
		case v > t.ClipReject:
			flag(Reject, "%s clipping %.1f%% above reject threshold %.1f%%", name, v*100, t.ClipReject*100)
		case v > t.ClipReview:
			flag(Review, "%s clipping %.1f%% above review threshold %.1f%%", name, v*100, t.ClipReview*100)
		}
	}
	checkClip("shadow", m.ClipLow)
	checkClip("highlight", m.ClipHigh)

	if m.Contrast < t.ContrastReview {
		flag(Review, "contrast %.1f below review threshold %.1f", m.Contrast, t.ContrastReview)
	}

	switch {
	case m.EdgeDensity < t.EdgeDensityLow:
		flag(Review, "edge density %.3f below %.3f (flat image)", m.EdgeDensity, t.EdgeDensityLow)
	case m.EdgeDensity > t.EdgeDensityHigh:
		flag(Review, "edge density %.3f above %.3f (noisy image)", m.EdgeDensity, t.EdgeDensityHigh)
	}

	if len(t.AllowedAspects) > 0 && m.Height > 0 && !aspectAllowed(m.Aspect, t.AllowedAspects, t.AspectTolerance) {
		flag(Review, "aspect ratio %.3f not in allowed set", m.Aspect)
	}

	return decision, reasons
}

func aspectAllowed(aspect float64, allowed []float64, tolerance float64) bool {
	for _, a := range allowed {
		if math.Abs(aspect-a) <= tolerance {
			return true
		}
	}
	return false
}
