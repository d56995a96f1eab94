package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	// ErrPromptRejected is returned when ComfyUI refuses a workflow.
	ErrPromptRejected = errors.New("prompt rejected by ComfyUI")
	// ErrExecutionFailed is returned when a queued prompt ends in error.
	ErrExecutionFailed = errors.New("prompt execution failed")
	// ErrTimeout is returned when a prompt does not complete in time.
	ErrTimeout = errors.New("timed out waiting for prompt")
)

// Config configures a Client.
type Config struct {
	BaseURL           string        `yaml:"url" validate:"required,url"`
	Timeout           time.Duration `yaml:"timeout"`
	PollInterval      time.Duration `yaml:"pollInterval"`
	MaxRetries        int           `yaml:"maxRetries" validate:"gte=0"`
	InitialBackoff    time.Duration `yaml:"initialBackoff"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" validate:"gte=0"`
	Concurrency       int           `yaml:"concurrency" validate:"gte=0"`
	// ClientID is sent with every prompt. ComfyUI only streams progress to
	// sockets opened with the id that queued the prompt, so set it when
	// one process queues and another watches.
	ClientID string `yaml:"clientId"`
}

// DefaultConfig returns settings for a local ComfyUI instance.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://127.0.0.1:8188",
		Timeout:           10 * time.Minute,
		PollInterval:      2 * time.Second,
		MaxRetries:        3,
		InitialBackoff:    500 * time.Millisecond,
		RequestsPerSecond: 5,
		Concurrency:       1,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = d.RequestsPerSecond
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	return c
}

// PromptResponse is the reply to POST /prompt.
type PromptResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors,omitempty"`
	Error      any            `json:"error,omitempty"`
}

// ImageRef identifies an output image on the ComfyUI server.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// HistoryStatus is the execution status of a prompt.
type HistoryStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
	Messages  []any  `json:"messages,omitempty"`
}

// HistoryEntry is one prompt in GET /history/{id}.
type HistoryEntry struct {
	Status  HistoryStatus `json:"status"`
	Outputs map[string]struct {
		Images []ImageRef `json:"images"`
	} `json:"outputs"`
}

// Images returns all output images ordered by node id.
func (h *HistoryEntry) Images() []ImageRef {
	ids := make([]string, 0, len(h.Outputs))
	for id := range h.Outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var refs []ImageRef
	for _, id := range ids {
		refs = append(refs, h.Outputs[id].Images...)
	}
	return refs
}

// Failed reports whether ComfyUI marked the prompt as errored.
func (h *HistoryEntry) Failed() bool {
	return h.Status.StatusStr == "error"
}

// QueueStatus summarises GET /queue.
type QueueStatus struct {
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) retriable() bool {
	return e.Code >= 500
}

// Client talks to one ComfyUI server.
type Client struct {
	cfg      Config
	base     *url.URL
	http     *http.Client
	limiter  *rate.Limiter
	clientID string
}

// NewClient creates a client. Without a configured client id a fresh one is
// generated.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ComfyUI url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid ComfyUI url %q: scheme must be http or https", cfg.BaseURL)
	}
	return &Client{
		cfg:      cfg,
		base:     base,
		http:     &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		clientID: cfg.ClientID,
	}, nil
}

// ClientID is sent with every prompt and used for the progress socket.
func (c *Client) ClientID() string {
	return c.clientID
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// QueuePrompt submits a workflow.
func (c *Client) QueuePrompt(ctx context.Context, wf Workflow) (*PromptResponse, error) {
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPromptRejected, err)
	}
	body, err := json.Marshal(map[string]any{"prompt": wf, "client_id": c.clientID})
	if err != nil {
		return nil, err
	}

	var resp PromptResponse
	data, err := c.do(ctx, http.MethodPost, "/prompt", nil, body)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusBadRequest {
			// ComfyUI answers 400 with the node errors in the body
			return nil, fmt.Errorf("%w: %s", ErrPromptRejected, se.Body)
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode prompt response: %w", err)
	}
	if len(resp.NodeErrors) > 0 || resp.Error != nil {
		return &resp, fmt.Errorf("%w: %s", ErrPromptRejected, data)
	}
	if resp.PromptID == "" {
		return &resp, fmt.Errorf("%w: response has no prompt_id", ErrPromptRejected)
	}
	slog.Debug("comfyui: prompt queued", "prompt_id", resp.PromptID, "number", resp.Number)
	return &resp, nil
}

// History returns the history entry for promptID. found is false until
// ComfyUI has recorded the prompt.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, bool, error) {
	data, err := c.do(ctx, http.MethodGet, "/history/"+url.PathEscape(promptID), nil, nil)
	if err != nil {
		return nil, false, err
	}
	var all map[string]*HistoryEntry
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, false, fmt.Errorf("failed to decode history: %w", err)
	}
	entry, ok := all[promptID]
	if !ok || entry == nil {
		return nil, false, nil
	}
	return entry, true, nil
}

// Queue returns the number of running and pending prompts.
func (c *Client) Queue(ctx context.Context) (*QueueStatus, error) {
	data, err := c.do(ctx, http.MethodGet, "/queue", nil, nil)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Running []json.RawMessage `json:"queue_running"`
		Pending []json.RawMessage `json:"queue_pending"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode queue: %w", err)
	}
	return &QueueStatus{Running: len(raw.Running), Pending: len(raw.Pending)}, nil
}

// ObjectInfo returns the node class catalogue.
func (c *Client) ObjectInfo(ctx context.Context) (map[string]any, error) {
	data, err := c.do(ctx, http.MethodGet, "/object_info", nil, nil)
	if err != nil {
		return nil, err
	}
	info := map[string]any{}
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode object_info: %w", err)
	}
	return info, nil
}

// HasNodeTypes returns the node classes the server does not know.
func (c *Client) HasNodeTypes(ctx context.Context, types ...string) ([]string, error) {
	info, err := c.ObjectInfo(ctx)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, t := range types {
		if _, ok := info[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing, nil
}

// Interrupt stops the prompt that is currently executing.
func (c *Client) Interrupt(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/interrupt", nil, nil)
	return err
}

// DownloadImage fetches an output image.
func (c *Client) DownloadImage(ctx context.Context, ref ImageRef) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	typ := ref.Type
	if typ == "" {
		typ = "output"
	}
	q.Set("type", typ)
	return c.do(ctx, http.MethodGet, "/view", q, nil)
}

// WaitForCompletion polls the history until the prompt finishes, fails or
// the configured timeout passes.
func (c *Client) WaitForCompletion(ctx context.Context, promptID string) (*HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		entry, found, err := c.History(ctx, promptID)
		switch {
		case err != nil && ctx.Err() == nil:
			return nil, err
		case found && entry.Failed():
			return entry, fmt.Errorf("%w: prompt %s", ErrExecutionFailed, promptID)
		case found && (entry.Status.Completed || len(entry.Outputs) > 0):
			return entry, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: prompt %s after %s", ErrTimeout, promptID, c.cfg.Timeout)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// do performs a rate limited request, retrying transport errors and 5xx
// responses with exponential backoff.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	backoff := c.cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("comfyui: retrying request", "method", method, "path", path, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		data, err := c.once(ctx, method, u.String(), path, body)
		if err == nil {
			return data, nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !se.retriable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%s %s failed after %d retries: %w", method, path, c.cfg.MaxRetries, lastErr)
}

func (c *Client) once(ctx context.Context, method, rawURL, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}
