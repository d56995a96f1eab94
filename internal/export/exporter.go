// Package export copies approved assets through the command pipeline into
// an export folder and optionally hands them to the Unreal editor.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jo-hoe/tgforge/internal/backend/commands"
	"github.com/jo-hoe/tgforge/internal/backend/commandstructure"
	"github.com/jo-hoe/tgforge/internal/backend/database"
	"github.com/jo-hoe/tgforge/internal/quality"
)

// RecordLister is the part of the audit store the exporter reads.
type RecordLister interface {
	ListAudits(decision quality.Decision) ([]*database.AuditRecord, error)
}

// Importer pushes a file into the editor.
type Importer interface {
	ImportTexture(ctx context.Context, source, destination string) (json.RawMessage, error)
}

// Options configure an Exporter.
type Options struct {
	Dir      string
	Commands []commandstructure.CommandConfig
	Registry *commandstructure.CommandRegistry
	// Importer and UnrealDestination are optional. When both are set every
	// exported file is imported below UnrealDestination.
	Importer          Importer
	UnrealDestination string
}

// Item is the outcome for one record.
type Item struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Target   string `json:"target,omitempty"`
	Imported bool   `json:"imported"`
	Error    string `json:"error,omitempty"`
}

// Result summarises an export run.
type Result struct {
	Items    []Item        `json:"items"`
	Exported int           `json:"exported"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// pngStep always closes the chain so exported files are PNG.
const pngStep = "PngConverterCommand"

type Exporter struct {
	store   RecordLister
	opts    Options
	invoker *commandstructure.CommandInvoker
}

// New resolves the command chain up front so a misconfigured step fails
// before any file is touched.
func New(store RecordLister, opts Options) (*Exporter, error) {
	if store == nil {
		return nil, errors.New("export needs an audit store")
	}
	if opts.Dir == "" {
		return nil, errors.New("export directory is not set")
	}
	if opts.Registry == nil {
		opts.Registry = commandstructure.DefaultRegistry
	}
	steps := opts.Commands
	if n := len(steps); n == 0 || steps[n-1].Name != pngStep {
		steps = append(steps[:n:n], commandstructure.CommandConfig{Name: pngStep})
	}
	invoker, err := commandstructure.Build(opts.Registry, steps)
	if err != nil {
		return nil, err
	}
	return &Exporter{store: store, opts: opts, invoker: invoker}, nil
}

// Run exports every record with decision keep. A failing file is recorded
// in the result and the run continues; only store and context errors abort.
func (e *Exporter) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	records, err := e.store.ListAudits(quality.Keep)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list keep records: %w", err)
	}
	if err := os.MkdirAll(e.opts.Dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create %s: %w", e.opts.Dir, err)
	}

	slog.Info("export: starting", "records", len(records), "dir", e.opts.Dir, "steps", e.invoker.Len())

	var res Result
	used := make(map[string]bool, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		item := e.exportOne(ctx, rec, used)
		if item.Error != "" {
			res.Failed++
		} else {
			res.Exported++
		}
		res.Items = append(res.Items, item)
	}
	res.Duration = time.Since(start)

	slog.Info("export: complete",
		"exported", res.Exported,
		"failed", res.Failed,
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (e *Exporter) exportOne(ctx context.Context, rec *database.AuditRecord, used map[string]bool) Item {
	item := Item{ID: rec.ID, Source: rec.Path}
	fail := func(err error) Item {
		slog.Error("export: failed", "path", rec.Path, "id", rec.ID, "error", err)
		item.Error = err.Error()
		return item
	}

	data, err := os.ReadFile(rec.Path)
	if err != nil {
		return fail(err)
	}
	if database.ContentID(data) != rec.ID {
		return fail(fmt.Errorf("file changed since it was audited"))
	}
	out, err := e.invoker.Execute(data)
	if err != nil {
		return fail(err)
	}

	target := filepath.Join(e.opts.Dir, targetName(rec.Path, rec.ID, used))
	if err := os.WriteFile(target, out, 0o644); err != nil {
		return fail(err)
	}
	item.Target = target

	if e.opts.Importer != nil && e.opts.UnrealDestination != "" {
		abs, err := filepath.Abs(target)
		if err != nil {
			return fail(err)
		}
		if _, err := e.opts.Importer.ImportTexture(ctx, abs, e.opts.UnrealDestination); err != nil {
			return fail(fmt.Errorf("unreal import: %w", err))
		}
		item.Imported = true
	}
	slog.Debug("export: wrote file", "path", rec.Path, "target", target, "imported", item.Imported)
	return item
}

// targetName keeps the source stem. Clashing stems get a short content-id
// suffix.
func targetName(path, id string, used map[string]bool) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := stem + ".png"
	if used[name] {
		name = fmt.Sprintf("%s_%s.png", stem, id[:min(8, len(id))])
	}
	used[name] = true
	return name
}
