package comfyui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/go-playground/validator"
	"github.com/jo-hoe/tgforge/internal/audit"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"
)

// Job is one entry of a job file. Count variations are generated with
// consecutive seeds.
type Job struct {
	Name       string  `yaml:"name" validate:"required"`
	Positive   string  `yaml:"positive" validate:"required"`
	Negative   string  `yaml:"negative"`
	Width      int     `yaml:"width" validate:"gte=0,lte=8192"`
	Height     int     `yaml:"height" validate:"gte=0,lte=8192"`
	Seed       int64   `yaml:"seed"`
	Steps      int     `yaml:"steps" validate:"gte=0,lte=200"`
	CFG        float64 `yaml:"cfg" validate:"gte=0"`
	Count      int     `yaml:"count" validate:"gte=0,lte=64"`
	Checkpoint string  `yaml:"checkpoint"`
}

type jobFile struct {
	Jobs []Job `yaml:"jobs" validate:"required,dive"`
}

// LoadJobs reads and validates a YAML job file.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file %s: %w", path, err)
	}
	var f jobFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse job file %s: %w", path, err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("invalid job file %s: %w", path, err)
	}
	seen := map[string]bool{}
	for i := range f.Jobs {
		if seen[f.Jobs[i].Name] {
			return nil, fmt.Errorf("invalid job file %s: duplicate job name %q", path, f.Jobs[i].Name)
		}
		seen[f.Jobs[i].Name] = true
		if f.Jobs[i].Count == 0 {
			f.Jobs[i].Count = 1
		}
	}
	return f.Jobs, nil
}

// Workflow builds the text-to-image graph for variation n of the job.
func (j Job) Workflow(n int) Workflow {
	return BuildTxt2Img(Txt2ImgParams{
		Checkpoint:     j.Checkpoint,
		Positive:       j.Positive,
		Negative:       j.Negative,
		Width:          j.Width,
		Height:         j.Height,
		Seed:           j.Seed + int64(n),
		Steps:          j.Steps,
		CFG:            j.CFG,
		FilenamePrefix: "TG_" + safeName(j.Name),
	})
}

// JobResult is the outcome of one job. Err is set when any variation failed.
type JobResult struct {
	Job       string          `json:"job"`
	ClientID  string          `json:"client_id,omitempty"`
	PromptIDs []string        `json:"prompt_ids"`
	Files     []string        `json:"files"`
	Records   []*audit.Record `json:"records"`
	Err       error           `json:"-"`
	Error     string          `json:"error,omitempty"`
	Duration  time.Duration   `json:"duration"`
}

// Backend is the part of Client the generator needs.
type Backend interface {
	QueuePrompt(ctx context.Context, wf Workflow) (*PromptResponse, error)
	WaitForCompletion(ctx context.Context, promptID string) (*HistoryEntry, error)
	DownloadImage(ctx context.Context, ref ImageRef) ([]byte, error)
}

// ProgressWatcher is implemented by backends that stream execution
// progress. The generator logs it while waiting for each prompt.
type ProgressWatcher interface {
	ClientID() string
	WatchProgress(ctx context.Context, promptID string, fn func(Event)) error
}

// FileAuditor analyses and classifies a downloaded image.
type FileAuditor interface {
	AuditFile(ctx context.Context, path string) (*audit.Record, error)
}

// Generator runs jobs against ComfyUI and audits the results.
type Generator struct {
	backend     Backend
	auditor     FileAuditor
	outputDir   string
	concurrency int
}

// NewGenerator creates a generator writing into outputDir. A nil auditor
// gets a default audit.Auditor with no store.
func NewGenerator(backend Backend, auditor FileAuditor, outputDir string, concurrency int) *Generator {
	if auditor == nil {
		auditor = audit.NewAuditor(audit.Options{})
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Generator{backend: backend, auditor: auditor, outputDir: outputDir, concurrency: concurrency}
}

// Run executes the jobs with at most the configured number in flight.
// Results keep the job order; only context cancellation is returned as an
// error.
func (g *Generator) Run(ctx context.Context, jobs []Job) ([]JobResult, error) {
	results := make([]JobResult, len(jobs))
	sem := semaphore.NewWeighted(int64(g.concurrency))
	var wg sync.WaitGroup

	for i, job := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return results, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = g.runJob(ctx, job)
		}()
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	slog.Info("comfyui: generation complete", "jobs", len(jobs), "failed", failed)
	return results, ctx.Err()
}

func (g *Generator) runJob(ctx context.Context, job Job) JobResult {
	start := time.Now()
	res := JobResult{Job: job.Name}
	if w, ok := g.backend.(ProgressWatcher); ok {
		res.ClientID = w.ClientID()
	}
	dir := filepath.Join(g.outputDir, safeName(job.Name))

	var errs []error
	if err := os.MkdirAll(dir, 0o755); err != nil {
		errs = append(errs, err)
	}

	count := job.Count
	if count <= 0 {
		count = 1
	}
	for n := 0; n < count && len(errs) == 0; n++ {
		if err := g.runVariation(ctx, job, n, dir, &res); err != nil {
			slog.Error("comfyui: variation failed", "job", job.Name, "variation", n, "error", err)
			errs = append(errs, fmt.Errorf("variation %d: %w", n, err))
			if ctx.Err() != nil {
				break
			}
		}
	}

	res.Duration = time.Since(start)
	if err := errors.Join(errs...); err != nil {
		res.Err = err
		res.Error = err.Error()
	}
	slog.Info("comfyui: job finished", "job", job.Name, "files", len(res.Files), "duration_ms", res.Duration.Milliseconds(), "error", res.Error)
	return res
}

func (g *Generator) runVariation(ctx context.Context, job Job, n int, dir string, res *JobResult) error {
	queued, err := g.backend.QueuePrompt(ctx, job.Workflow(n))
	if err != nil {
		return err
	}
	res.PromptIDs = append(res.PromptIDs, queued.PromptID)

	stopWatch := g.watch(ctx, job.Name, queued.PromptID)
	entry, err := g.backend.WaitForCompletion(ctx, queued.PromptID)
	stopWatch()
	if err != nil {
		return err
	}
	for _, ref := range entry.Images() {
		data, err := g.backend.DownloadImage(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to download %s: %w", ref.Filename, err)
		}
		path := filepath.Join(dir, filepath.Base(ref.Filename))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		res.Files = append(res.Files, path)

		rec, err := g.auditor.AuditFile(ctx, path)
		if rec != nil {
			res.Records = append(res.Records, rec)
		}
		if err != nil {
			slog.Warn("comfyui: audit of output failed", "path", path, "error", err)
		}
	}
	return nil
}

// watch logs progress events for promptID until the returned func is called.
func (g *Generator) watch(ctx context.Context, jobName, promptID string) func() {
	w, ok := g.backend.(ProgressWatcher)
	if !ok {
		return func() {}
	}
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := w.WatchProgress(wctx, promptID, func(ev Event) {
			slog.Debug("comfyui: progress", "job", jobName, "prompt_id", promptID,
				"event", ev.Type, "node", ev.Node, "value", ev.Value, "max", ev.Max)
		})
		if err != nil && wctx.Err() == nil {
			slog.Debug("comfyui: progress stream ended", "prompt_id", promptID, "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeName(name string) string {
	s := unsafeNameRe.ReplaceAllString(name, "_")
	if s == "" || s == "." || s == ".." {
		return "job"
	}
	return s
}
