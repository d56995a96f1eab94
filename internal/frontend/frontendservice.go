// Package frontend serves the htmx review page for images the auditor
// could not decide on.
package frontend

import (
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/jo-hoe/tgforge/internal/audit"
	"github.com/jo-hoe/tgforge/internal/backend/commands"
	"github.com/jo-hoe/tgforge/internal/backend/database"
	"github.com/jo-hoe/tgforge/internal/core"
	"github.com/jo-hoe/tgforge/internal/quality"
	"github.com/labstack/echo/v4"
)

const (
	MainPageName   = "review.html"
	mimePNG        = "image/png"
	thumbnailWidth = 256
)

var pageTemplates = template.Must(template.New("").Funcs(template.FuncMap{
	"last": func(i int, queue []*audit.Record) bool { return i == len(queue)-1 },
}).Parse(`
{{define "review.html"}}<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>tgforge review</title>
<script src="https://unpkg.com/htmx.org@2.0.4"></script>
</head>
<body>
<main>
<h1>Review queue</h1>
<div id="review-list" hx-get="/htmx/review" hx-trigger="load"></div>
</main>
</body>
</html>{{end}}

{{define "list"}}{{if not .}}<p>Nothing to review.</p>{{else}}<div class="vertical-list">
{{- range $i, $r := .}}
<div class="vertical-item" data-id="{{$r.ID}}"><article>
	<img src="/htmx/review/{{$r.ID}}/thumb" alt="{{$r.Path}}" style="max-width:100%;height:auto">
	<footer>
		<small>{{$r.Path}} ({{$r.Width}}x{{$r.Height}})</small>
		<ul>{{range $r.Reasons}}<li>{{.}}</li>{{end}}</ul>
		<button hx-post="/htmx/review/{{$r.ID}}/move?dir=up" hx-target="#review-list"{{if eq $i 0}} disabled{{end}}>Up</button>
		<button hx-post="/htmx/review/{{$r.ID}}/move?dir=down" hx-target="#review-list"{{if last $i $}} disabled{{end}}>Down</button>
		<button hx-post="/htmx/review/{{$r.ID}}/decision?decision=keep" hx-target="#review-list">Keep</button>
		<button hx-post="/htmx/review/{{$r.ID}}/decision?decision=reject" hx-target="#review-list" class="secondary">Reject</button>
	</footer>
</article></div>
{{- end}}
</div>{{end}}{{end}}
`))

// Template adapts html/template to echo.Renderer.
type Template struct {
	templates *template.Template
}

func (t *Template) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return t.templates.ExecuteTemplate(w, name, data)
}

type FrontendService struct {
	coreService *core.CoreService
}

func NewFrontendService(coreService *core.CoreService) *FrontendService {
	return &FrontendService{coreService: coreService}
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	e.Renderer = &Template{templates: pageTemplates}

	e.GET("/", func(ctx echo.Context) error {
		return ctx.Redirect(http.StatusMovedPermanently, "/"+MainPageName)
	})
	e.GET("/"+MainPageName, service.indexHandler)
	e.GET("/htmx/review", service.htmxListHandler)
	e.GET("/htmx/review/:id/thumb", service.htmxThumbnailHandler)
	e.POST("/htmx/review/:id/move", service.htmxMoveHandler)
	e.POST("/htmx/review/:id/decision", service.htmxDecisionHandler)
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	return ctx.Render(http.StatusOK, MainPageName, nil)
}

func (service *FrontendService) htmxListHandler(ctx echo.Context) error {
	queue, err := service.coreService.ReviewQueue()
	if err != nil {
		slog.Error("htmxListHandler: failed to read review queue", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to read review queue")
	}
	service.setNoCache(ctx)
	return ctx.Render(http.StatusOK, "list", queue)
}

func (service *FrontendService) htmxThumbnailHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	record, err := service.coreService.GetAudit(id)
	if err != nil {
		slog.Warn("htmxThumbnailHandler: record not available", "status", http.StatusNotFound, "id", id, "error", err)
		return ctx.String(http.StatusNotFound, "Image not available")
	}
	thumbnail, err := toThumbnail(record)
	if err != nil {
		slog.Warn("htmxThumbnailHandler: thumbnail not available", "status", http.StatusNotFound, "id", id, "error", err)
		return ctx.String(http.StatusNotFound, "Thumbnail not available")
	}
	service.setNoCache(ctx)
	return ctx.Blob(http.StatusOK, mimePNG, thumbnail)
}

func (service *FrontendService) htmxMoveHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	dir := strings.ToLower(strings.TrimSpace(ctx.QueryParam("dir")))
	if dir != string(database.Up) && dir != string(database.Down) {
		slog.Warn("htmxMoveHandler: invalid params", "id", id, "dir", dir)
		return ctx.String(http.StatusBadRequest, "Invalid parameters")
	}
	if err := service.coreService.MoveReview(id, database.Direction(dir)); err != nil {
		return service.fail(ctx, "htmxMoveHandler", id, err)
	}
	return service.htmxListHandler(ctx)
}

func (service *FrontendService) htmxDecisionHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	decision, err := quality.ParseDecision(ctx.QueryParam("decision"))
	if err != nil {
		return ctx.String(http.StatusBadRequest, "Invalid decision")
	}
	if err := service.coreService.ResolveReview(id, decision); err != nil {
		return service.fail(ctx, "htmxDecisionHandler", id, err)
	}
	return service.htmxListHandler(ctx)
}

func (service *FrontendService) fail(ctx echo.Context, handler, id string, err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return ctx.String(http.StatusNotFound, "Image not found")
	case errors.Is(err, core.ErrInvalidDecision):
		return ctx.String(http.StatusBadRequest, err.Error())
	}
	slog.Error(handler+": store operation failed", "id", id, "error", err)
	return ctx.String(http.StatusInternalServerError, "Failed to update review queue")
}

func toThumbnail(record *audit.Record) ([]byte, error) {
	data, err := os.ReadFile(record.Path)
	if err != nil {
		return nil, err
	}
	command, err := commands.NewScaleCommand(map[string]any{
		"width":  thumbnailWidth,
		"height": thumbnailWidth,
		"mode":   string(commands.ScaleFit),
	})
	if err != nil {
		return nil, err
	}
	return command.Execute(data)
}

func (service *FrontendService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}
