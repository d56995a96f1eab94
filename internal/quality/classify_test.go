package quality

import (
	"strings"
	"testing"

	"github.com/jo-hoe/tgforge/internal/testutil"
)

func goodMetrics() Metrics {
	return Metrics{
		Width:       1024,
		Height:      1024,
		Aspect:      1,
		Sharpness:   500,
		Brightness:  120,
		Contrast:    40,
		ClipLow:     0.001,
		ClipHigh:    0.001,
		EdgeDensity: 0.1,
	}
}

func TestClassify_Table(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(m *Metrics)
		want       Decision
		wantReason string
	}{
		{"good image", func(m *Metrics) {}, Keep, ""},
		{"too small", func(m *Metrics) { m.Width, m.Height = 256, 256 }, Reject, "resolution 256x256"},
		{"blurry", func(m *Metrics) { m.Sharpness = 10 }, Reject, "sharpness 10.0 below reject"},
		{"soft", func(m *Metrics) { m.Sharpness = 60 }, Review, "sharpness 60.0 below review"},
		{"black frame", func(m *Metrics) { m.Brightness = 5 }, Reject, "too dark"},
		{"blown out", func(m *Metrics) { m.Brightness = 250 }, Reject, "too bright"},
		{"dim", func(m *Metrics) { m.Brightness = 30 }, Review, "dark (review"},
		{"bright", func(m *Metrics) { m.Brightness = 230 }, Review, "bright (review"},
		{"crushed shadows", func(m *Metrics) { m.ClipLow = 0.3 }, Reject, "shadow clipping"},
		{"some highlights", func(m *Metrics) { m.ClipHigh = 0.1 }, Review, "highlight clipping"},
		{"flat contrast", func(m *Metrics) { m.Contrast = 5 }, Review, "contrast 5.0"},
		{"no edges", func(m *Metrics) { m.EdgeDensity = 0.001 }, Review, "flat image"},
		{"noisy", func(m *Metrics) { m.EdgeDensity = 0.6 }, Review, "noisy image"},
		{"odd aspect", func(m *Metrics) { m.Width, m.Aspect = 1300, 1300.0 / 1024.0 }, Review, "aspect ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := goodMetrics()
			tt.mutate(&m)
			got, reasons := Classify(m, DefaultThresholds())
			if got != tt.want {
				t.Fatalf("decision = %s, want %s (reasons %v)", got, tt.want, reasons)
			}
			if tt.wantReason == "" {
				if len(reasons) != 0 {
					t.Fatalf("expected no reasons, got %v", reasons)
				}
				return
			}
			if !strings.Contains(strings.Join(reasons, "; "), tt.wantReason) {
				t.Errorf("reasons %v do not mention %q", reasons, tt.wantReason)
			}
		})
	}
}

func TestClassify_RejectWinsOverReview(t *testing.T) {
	m := goodMetrics()
	m.Contrast = 1   // review
	m.Sharpness = 1  // reject
	m.ClipHigh = 0.1 // review

	got, reasons := Classify(m, DefaultThresholds())
	if got != Reject {
		t.Fatalf("decision = %s, want reject", got)
	}
	if len(reasons) != 3 {
		t.Fatalf("expected 3 reasons, got %d: %v", len(reasons), reasons)
	}
	if !strings.HasPrefix(reasons[0], "sharpness") {
		t.Errorf("reasons should follow check order, got %v", reasons)
	}
}

func TestClassify_EmptyAspectListSkipsAspectCheck(t *testing.T) {
	th := DefaultThresholds()
	th.AllowedAspects = nil
	m := goodMetrics()
	m.Width, m.Aspect = 1500, 1500.0/1024.0
	if got, reasons := Classify(m, th); got != Keep {
		t.Fatalf("decision = %s, want keep (reasons %v)", got, reasons)
	}
}

func TestClassify_RealImages(t *testing.T) {
	a := NewAnalyzer()
	th := DefaultThresholds()

	if d, r := Classify(a.Analyze(testutil.Blocks(640, 640, 16)), th); d != Keep {
		t.Errorf("blocks image decision = %s, want keep (reasons %v)", d, r)
	}
	if d, r := Classify(a.Analyze(testutil.Uniform(640, 640, 128)), th); d != Reject {
		t.Errorf("uniform image decision = %s, want reject (reasons %v)", d, r)
	}
}

func TestParseDecision(t *testing.T) {
	for in, want := range map[string]Decision{"keep": Keep, " Review ": Review, "REJECT": Reject} {
		got, err := ParseDecision(in)
		if err != nil || got != want {
			t.Errorf("ParseDecision(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseDecision("maybe"); err == nil {
		t.Error("expected error for unknown decision")
	}
}
