package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mickgian/pratiko-chat/internal/apitypes"
)

// Client talks to the backend's JSON endpoints: session CRUD, history,
// usage and document upload. The streaming endpoint has its own handler
// in internal/stream.
type Client struct {
	baseURL  string
	http     *http.Client
	tracer   trace.Tracer
	duration metric.Float64Histogram
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	meter := otel.Meter("pratiko-chat")
	hist, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		hist = nil
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		tracer:   otel.Tracer("pratiko-chat"),
		duration: hist,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// envelope is the backend's JSON response frame.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, in, out any) error {
	ctx, span := c.tracer.Start(ctx, "api "+method+" "+path)
	defer span.End()

	start := time.Now()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if c.duration != nil {
		c.duration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("backend: %s", msg)
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("backend: %s", env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

type createSessionReq struct {
	Name string `json:"name"`
}

func (c *Client) CreateSession(ctx context.Context, name string) (*apitypes.Session, error) {
	var out apitypes.Session
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions", "", createSessionReq{Name: name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]apitypes.Session, error) {
	var out struct {
		Sessions []apitypes.Session `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

type renameSessionReq struct {
	Name string `json:"name"`
}

func (c *Client) RenameSession(ctx context.Context, token, id, name string) error {
	return c.doJSON(ctx, http.MethodPatch, "/v1/sessions/"+id, token, renameSessionReq{Name: name}, nil)
}

func (c *Client) TouchSession(ctx context.Context, token, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/sessions/"+id+"/touch", token, nil, nil)
}

func (c *Client) DeleteSession(ctx context.Context, token, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/sessions/"+id, token, nil, nil)
}

// SessionMessages fetches the backend-authoritative history.
func (c *Client) SessionMessages(ctx context.Context, token, id string) ([]apitypes.Message, error) {
	var out struct {
		Messages []apitypes.Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions/"+id+"/messages", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

type importMessagesReq struct {
	Messages []apitypes.Message `json:"messages"`
}

// ImportMessages pushes local-only messages into the backend. The server
// deduplicates by message id, so re-imports are safe.
func (c *Client) ImportMessages(ctx context.Context, token, id string, msgs []apitypes.Message) (int, error) {
	var out struct {
		Imported int `json:"imported"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions/"+id+"/messages/import", token, importMessagesReq{Messages: msgs}, &out); err != nil {
		return 0, err
	}
	return out.Imported, nil
}

func (c *Client) UsageStatus(ctx context.Context) (*apitypes.UsageStatus, error) {
	var out apitypes.UsageStatus
	if err := c.doJSON(ctx, http.MethodGet, "/v1/usage", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type simulateUsageReq struct {
	WindowType       string  `json:"window_type"`
	TargetPercentage float64 `json:"target_percentage"`
}

// SimulateUsage is privileged QA tooling: it sets a window to an
// arbitrary simulated percentage.
func (c *Client) SimulateUsage(ctx context.Context, windowType string, targetPercentage float64) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/usage/simulate", "", simulateUsageReq{
		WindowType:       windowType,
		TargetPercentage: targetPercentage,
	}, nil)
}

// ResetUsage is privileged QA tooling: it clears both windows server-side.
func (c *Client) ResetUsage(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/usage/reset", "", nil, nil)
}

// UploadDocument sends a file and returns the opaque attachment id chat
// requests reference later.
func (c *Client) UploadDocument(ctx context.Context, filename string, r io.Reader) (*apitypes.Attachment, error) {
	ctx, span := c.tracer.Start(ctx, "api upload_document")
	defer span.End()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/documents", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("backend: %s", strings.TrimSpace(string(b)))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	var att apitypes.Attachment
	if err := json.Unmarshal(env.Data, &att); err != nil {
		return nil, fmt.Errorf("failed to decode attachment: %w", err)
	}
	return &att, nil
}
