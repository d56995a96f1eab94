package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jo-hoe/tgforge/internal/audit"
	"github.com/jo-hoe/tgforge/internal/backend/cache"
	"github.com/jo-hoe/tgforge/internal/backend/database"
	"github.com/jo-hoe/tgforge/internal/comfyui"
	"github.com/jo-hoe/tgforge/internal/export"
	"github.com/jo-hoe/tgforge/internal/monitor"
	"github.com/jo-hoe/tgforge/internal/quality"
	"github.com/jo-hoe/tgforge/internal/unreal"
)

// ErrInvalidDecision is returned when a reviewer picks something other
// than keep or reject.
var ErrInvalidDecision = errors.New("decision must be keep or reject")

// CoreService owns the long-lived resources shared by the CLI, the HTTP API
// and the MCP server.
type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	cache           cache.Cache
	report          *audit.ReportWriter
	auditor         *audit.Auditor

	comfyOnce sync.Once
	comfy     *comfyui.Client
	comfyErr  error
}

func NewCoreService(config *ServiceConfig) (*CoreService, error) {
	databaseService, err := getDatabaseService(config)
	if err != nil {
		return nil, err
	}
	c, err := cache.NewCache(config.Cache.Type, config.Cache.Address, config.Cache.TTL)
	if err != nil {
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	service := &CoreService{
		config:          config,
		databaseService: databaseService,
		cache:           c,
	}
	opts := audit.Options{
		Extensions: config.Audit.Extensions,
		Workers:    config.Audit.Workers,
		Thresholds: &config.Quality,
		Cache:      c,
		Store:      databaseService,
	}
	if config.Audit.Report != "" {
		if service.report, err = audit.OpenReport(config.Audit.Report); err != nil {
			_ = service.Close()
			return nil, err
		}
		opts.Report = service.report
	}
	if config.Audit.RouteDir != "" {
		opts.Router = audit.NewRouter(config.Audit.RouteDir, config.Audit.Move)
	}
	service.auditor = audit.NewAuditor(opts)
	return service, nil
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

func (service *CoreService) Config() *ServiceConfig {
	return service.config
}

func (service *CoreService) Auditor() *audit.Auditor {
	return service.auditor
}

// AnalyzeImage audits uploaded bytes and stores the record.
func (service *CoreService) AnalyzeImage(ctx context.Context, name string, data []byte) (*audit.Record, error) {
	return service.auditor.AuditBytes(ctx, name, data)
}

func (service *CoreService) AuditDirectory(ctx context.Context, root string) (audit.Summary, error) {
	return service.auditor.Run(ctx, root)
}

func (service *CoreService) ListAudits(decision quality.Decision) ([]*audit.Record, error) {
	return service.databaseService.ListAudits(decision)
}

func (service *CoreService) GetAudit(id string) (*audit.Record, error) {
	return service.databaseService.GetAudit(id)
}

func (service *CoreService) DeleteAudit(id string) error {
	return service.databaseService.DeleteAudit(id)
}

func (service *CoreService) CountByDecision() (map[quality.Decision]int, error) {
	return service.databaseService.CountByDecision()
}

func (service *CoreService) ReviewQueue() ([]*audit.Record, error) {
	return service.databaseService.ReviewQueue()
}

func (service *CoreService) MoveReview(id string, direction database.Direction) error {
	return service.databaseService.MoveReview(id, direction)
}

// ResolveReview settles a queued record. Only keep and reject are final.
func (service *CoreService) ResolveReview(id string, decision quality.Decision) error {
	if decision != quality.Keep && decision != quality.Reject {
		return ErrInvalidDecision
	}
	if err := service.databaseService.SetDecision(id, decision); err != nil {
		return err
	}
	slog.Info("review resolved", "id", id, "decision", decision)
	return nil
}

// NewMonitor creates a monitor on dir, or on monitor.dir when dir is empty.
func (service *CoreService) NewMonitor(dir string, onRecord func(*audit.Record)) (*monitor.Monitor, error) {
	if dir == "" {
		dir = service.config.Monitor.Dir
	}
	return monitor.New(monitor.Options{
		Dir:             dir,
		Extensions:      service.config.Audit.Extensions,
		Debounce:        service.config.Monitor.Debounce,
		ProcessExisting: service.config.Monitor.ProcessExisting,
		OnRecord:        onRecord,
	}, service.auditor)
}

// ComfyClient is created on first use so commands that never talk to
// ComfyUI do not need a valid URL.
func (service *CoreService) ComfyClient() (*comfyui.Client, error) {
	service.comfyOnce.Do(func() {
		service.comfy, service.comfyErr = comfyui.NewClient(service.config.ComfyUI)
	})
	return service.comfy, service.comfyErr
}

func (service *CoreService) UnrealClient() *unreal.Client {
	return unreal.NewClient(service.config.Unreal.Address, service.config.Unreal.Timeout)
}

// NewGenerator writes batch output below outputDir and audits each image.
func (service *CoreService) NewGenerator(outputDir string) (*comfyui.Generator, error) {
	client, err := service.ComfyClient()
	if err != nil {
		return nil, err
	}
	return comfyui.NewGenerator(client, service.auditor, outputDir, service.config.ComfyUI.Concurrency), nil
}

// NewExporter builds the exporter from the export section. With withUnreal
// set, exported files are also imported into the editor.
func (service *CoreService) NewExporter(withUnreal bool) (*export.Exporter, error) {
	opts := export.Options{
		Dir:      service.config.Export.Dir,
		Commands: service.config.Export.Commands,
	}
	if withUnreal && service.config.Export.UnrealDestination != "" {
		opts.Importer = service.UnrealClient()
		opts.UnrealDestination = service.config.Export.UnrealDestination
	}
	return export.New(service.databaseService, opts)
}

func (service *CoreService) Close() error {
	var errs []error
	if service.report != nil {
		errs = append(errs, service.report.Close())
	}
	if service.cache != nil {
		errs = append(errs, service.cache.Close())
	}
	errs = append(errs, service.databaseService.Close())
	return errors.Join(errs...)
}
