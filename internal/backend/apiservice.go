package backend

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/tgforge/internal/audit"
	"github.com/jo-hoe/tgforge/internal/backend/database"
	"github.com/jo-hoe/tgforge/internal/core"
	"github.com/jo-hoe/tgforge/internal/quality"
	"github.com/labstack/echo/v4"
)

// maxUploadBytes bounds POST /api/analyze bodies.
const maxUploadBytes = 64 << 20

type APIService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		coreService: coreService,
		config:      config,
	}
}

type MoveRequest struct {
	Direction string `json:"direction" validate:"required,oneof=up down"`
}

type DecisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=keep reject"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type analyzeResponse struct {
	*audit.Record
	Error string `json:"error,omitempty"`
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	// Set probe route
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	api := e.Group("/api")
	api.GET("/audits", s.listAuditsHandler)
	api.GET("/audits/:id", s.getAuditHandler)
	api.DELETE("/audits/:id", s.deleteAuditHandler)
	api.GET("/stats", s.statsHandler)
	api.POST("/analyze", s.analyzeHandler)
	api.GET("/review", s.reviewQueueHandler)
	api.POST("/review/:id/move", s.moveReviewHandler)
	api.POST("/review/:id/decision", s.decisionHandler)
	api.GET("/comfyui/queue", s.comfyQueueHandler)
}

func (s *APIService) listAuditsHandler(ctx echo.Context) error {
	var decision quality.Decision
	if raw := ctx.QueryParam("decision"); raw != "" {
		d, err := quality.ParseDecision(raw)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, errorResponse{err.Error()})
		}
		decision = d
	}
	records, err := s.coreService.ListAudits(decision)
	if err != nil {
		slog.Error("listAuditsHandler: failed to list audits", "decision", decision, "error", err)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{"failed to list audits"})
	}
	return ctx.JSON(http.StatusOK, nonNil(records))
}

func (s *APIService) getAuditHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	record, err := s.coreService.GetAudit(id)
	if err != nil {
		return storeError(ctx, "getAuditHandler", id, err)
	}
	return ctx.JSON(http.StatusOK, record)
}

func (s *APIService) deleteAuditHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	if err := s.coreService.DeleteAudit(id); err != nil {
		return storeError(ctx, "deleteAuditHandler", id, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *APIService) statsHandler(ctx echo.Context) error {
	counts, err := s.coreService.CountByDecision()
	if err != nil {
		slog.Error("statsHandler: failed to count audits", "error", err)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{"failed to count audits"})
	}
	return ctx.JSON(http.StatusOK, counts)
}

func (s *APIService) analyzeHandler(ctx echo.Context) error {
	file, err := ctx.FormFile("image")
	if err != nil {
		slog.Warn("analyzeHandler: missing upload", "status", http.StatusBadRequest, "error", err)
		return ctx.JSON(http.StatusBadRequest, errorResponse{"multipart field 'image' is required"})
	}
	if file.Size > maxUploadBytes {
		return ctx.JSON(http.StatusRequestEntityTooLarge, errorResponse{"image too large"})
	}

	src, err := file.Open()
	if err != nil {
		slog.Error("analyzeHandler: failed to open uploaded file", "error", err, "filename", file.Filename)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{"failed to open uploaded file"})
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Error("analyzeHandler: failed to close uploaded file reader", "error", cerr, "filename", file.Filename)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(src, maxUploadBytes))
	if err != nil {
		slog.Error("analyzeHandler: failed to read uploaded file", "error", err, "filename", file.Filename)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{"failed to read uploaded file"})
	}

	record, err := s.coreService.AnalyzeImage(ctx.Request().Context(), file.Filename, data)
	if err != nil {
		// undecodable uploads still get a reject record
		slog.Warn("analyzeHandler: analysis failed", "filename", file.Filename, "error", err)
		return ctx.JSON(http.StatusUnprocessableEntity, analyzeResponse{Record: record, Error: err.Error()})
	}
	return ctx.JSON(http.StatusOK, analyzeResponse{Record: record})
}

func (s *APIService) reviewQueueHandler(ctx echo.Context) error {
	queue, err := s.coreService.ReviewQueue()
	if err != nil {
		slog.Error("reviewQueueHandler: failed to read review queue", "error", err)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{"failed to read review queue"})
	}
	return ctx.JSON(http.StatusOK, nonNil(queue))
}

func (s *APIService) moveReviewHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	var req MoveRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return err
	}
	if err := s.coreService.MoveReview(id, database.Direction(req.Direction)); err != nil {
		return storeError(ctx, "moveReviewHandler", id, err)
	}
	return s.reviewQueueHandler(ctx)
}

func (s *APIService) decisionHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	var req DecisionRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return err
	}
	if err := s.coreService.ResolveReview(id, quality.Decision(req.Decision)); err != nil {
		return storeError(ctx, "decisionHandler", id, err)
	}
	record, err := s.coreService.GetAudit(id)
	if err != nil {
		return storeError(ctx, "decisionHandler", id, err)
	}
	return ctx.JSON(http.StatusOK, record)
}

func (s *APIService) comfyQueueHandler(ctx echo.Context) error {
	client, err := s.coreService.ComfyClient()
	if err != nil {
		slog.Error("comfyQueueHandler: client not available", "error", err)
		return ctx.JSON(http.StatusServiceUnavailable, errorResponse{err.Error()})
	}
	status, err := client.Queue(ctx.Request().Context())
	if err != nil {
		slog.Error("comfyQueueHandler: failed to query queue", "url", s.config.ComfyUI.BaseURL, "error", err)
		return ctx.JSON(http.StatusBadGateway, errorResponse{"ComfyUI is not reachable"})
	}
	return ctx.JSON(http.StatusOK, status)
}

func bindAndValidate(ctx echo.Context, req any) error {
	if err := ctx.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	return ctx.Validate(req)
}

func storeError(ctx echo.Context, handler, id string, err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return ctx.JSON(http.StatusNotFound, errorResponse{"audit record not found"})
	case errors.Is(err, core.ErrInvalidDecision):
		return ctx.JSON(http.StatusBadRequest, errorResponse{err.Error()})
	default:
		slog.Error(handler+": store operation failed", "id", id, "error", err)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{"store operation failed"})
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
