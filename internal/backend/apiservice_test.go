package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jo-hoe/tgforge/internal/audit"
	"github.com/jo-hoe/tgforge/internal/core"
	"github.com/jo-hoe/tgforge/internal/quality"
	"github.com/jo-hoe/tgforge/internal/testutil"
	"github.com/labstack/echo/v4"
)

func newTestServer(t *testing.T, mutate func(*core.ServiceConfig)) (*echo.Echo, *core.CoreService) {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Database.ConnectionString = ":memory:"
	cfg.Quality.MinWidth = 16
	cfg.Quality.MinHeight = 16
	if mutate != nil {
		mutate(cfg)
	}
	svc, err := core.NewCoreService(cfg)
	if err != nil {
		t.Fatalf("NewCoreService() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	e := NewServer()
	NewAPIService(cfg, svc).SetRoutes(e)
	return e, svc
}

func do(t *testing.T, e *echo.Echo, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T, e *echo.Echo, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", name)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()
	return do(t, e, http.MethodPost, "/api/analyze", mw.FormDataContentType(), body.Bytes())
}

// reviewThresholds make flat images land in review instead of reject.
func reviewThresholds(c *core.ServiceConfig) {
	c.Quality.SharpnessReject = 0
}

func seedReview(t *testing.T, svc *core.CoreService, names ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(names))
	for i, name := range names {
		data := testutil.EncodePNG(t, testutil.Uniform(32+i, 32+i, 128))
		rec, err := svc.AnalyzeImage(context.Background(), name, data)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Decision != quality.Review {
			t.Fatalf("%s: decision = %s, reasons %v", name, rec.Decision, rec.Reasons)
		}
		ids = append(ids, rec.ID)
	}
	return ids
}

func TestProbe(t *testing.T) {
	e, _ := newTestServer(t, nil)
	rec := do(t, e, http.MethodGet, "/probe", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("probe = %d %q", rec.Code, rec.Body.String())
	}
}

func TestAnalyzeAndAudits(t *testing.T) {
	e, _ := newTestServer(t, nil)

	rec := upload(t, e, "detail.png", testutil.EncodePNG(t, testutil.Blocks(64, 64, 8)))
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d body = %s", rec.Code, rec.Body.String())
	}
	var analyzed audit.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &analyzed); err != nil {
		t.Fatal(err)
	}
	if analyzed.ID == "" || analyzed.Width != 64 {
		t.Errorf("analyzed = %+v", analyzed)
	}

	rec = upload(t, e, "broken.png", []byte("not an image"))
	if rec.Code != http.StatusUnprocessableEntity || !strings.Contains(rec.Body.String(), `"decision":"reject"`) {
		t.Errorf("broken upload = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, e, http.MethodGet, "/api/audits", "", nil)
	var all []audit.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil || len(all) != 2 {
		t.Fatalf("audits = %s (%v)", rec.Body.String(), err)
	}

	rec = do(t, e, http.MethodGet, "/api/audits?decision=reject", "", nil)
	var rejected []audit.Record
	_ = json.Unmarshal(rec.Body.Bytes(), &rejected)
	if len(rejected) != 1 || rejected[0].Path != "broken.png" {
		t.Errorf("rejected = %s", rec.Body.String())
	}

	if rec := do(t, e, http.MethodGet, "/api/audits?decision=maybe", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad decision filter status = %d", rec.Code)
	}
	if rec := do(t, e, http.MethodGet, "/api/audits/"+analyzed.ID, "", nil); rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}
	if rec := do(t, e, http.MethodDelete, "/api/audits/"+analyzed.ID, "", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := do(t, e, http.MethodGet, "/api/audits/"+analyzed.ID, "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
	if rec := do(t, e, http.MethodGet, "/api/stats", "", nil); !strings.Contains(rec.Body.String(), `"reject":1`) {
		t.Errorf("stats = %s", rec.Body.String())
	}
}

func TestAnalyze_MissingFile(t *testing.T) {
	e, _ := newTestServer(t, nil)
	rec := do(t, e, http.MethodPost, "/api/analyze", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestReviewQueue(t *testing.T) {
	e, svc := newTestServer(t, reviewThresholds)
	ids := seedReview(t, svc, "a.png", "b.png")

	rec := do(t, e, http.MethodPost, "/api/review/"+ids[1]+"/move", echo.MIMEApplicationJSON, []byte(`{"direction":"up"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("move status = %d body = %s", rec.Code, rec.Body.String())
	}
	var moved []audit.Record
	_ = json.Unmarshal(rec.Body.Bytes(), &moved)
	if len(moved) != 2 || moved[0].ID != ids[1] {
		t.Errorf("queue after move = %s", rec.Body.String())
	}

	rec = do(t, e, http.MethodPost, "/api/review/"+ids[0]+"/decision", echo.MIMEApplicationJSON, []byte(`{"decision":"keep"}`))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"decision":"keep"`) {
		t.Errorf("decision = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, e, http.MethodGet, "/api/review", "", nil)
	var remaining []audit.Record
	_ = json.Unmarshal(rec.Body.Bytes(), &remaining)
	if len(remaining) != 1 || remaining[0].ID != ids[1] {
		t.Errorf("queue = %s", rec.Body.String())
	}
}

func TestReview_InvalidRequests(t *testing.T) {
	e, _ := newTestServer(t, nil)
	tests := []struct {
		target string
		body   string
		want   int
	}{
		{"/api/review/x/move", `{"direction":"sideways"}`, http.StatusBadRequest},
		{"/api/review/x/move", `{`, http.StatusBadRequest},
		{"/api/review/x/decision", `{"decision":"review"}`, http.StatusBadRequest},
		{"/api/review/x/move", `{"direction":"up"}`, http.StatusNotFound},
		{"/api/review/x/decision", `{"decision":"keep"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := do(t, e, http.MethodPost, tt.target, echo.MIMEApplicationJSON, []byte(tt.body))
		if rec.Code != tt.want {
			t.Errorf("%s %s: status = %d, want %d (%s)", tt.target, tt.body, rec.Code, tt.want, rec.Body.String())
		}
	}
}

func TestComfyQueue(t *testing.T) {
	comfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/queue" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"queue_running":[[0,"a"]],"queue_pending":[[1,"b"],[2,"c"]]}`))
	}))
	defer comfy.Close()

	e, _ := newTestServer(t, func(c *core.ServiceConfig) { c.ComfyUI.BaseURL = comfy.URL })
	rec := do(t, e, http.MethodGet, "/api/comfyui/queue", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"pending":2`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	comfy.Close()
	if rec := do(t, e, http.MethodGet, "/api/comfyui/queue", "", nil); rec.Code != http.StatusBadGateway {
		t.Errorf("unreachable comfy status = %d", rec.Code)
	}
}
