package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mickgian/pratiko-chat/internal/apitypes"
)

// Config is runtime transport configuration. Changing it has no effect
// on an already-open stream. Timeout bounds the wait for response
// headers only; the open stream itself has no deadline.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Request describes one chat turn to stream.
type Request struct {
	SessionToken  string
	Query         string
	AttachmentIDs []string
	// MessageID is the AI placeholder id created atomically with the
	// stream start; deltas are delivered against it.
	MessageID string
}

// DeltaFunc receives incremental tokens while the stream is open.
type DeltaFunc func(messageID, delta string)

// Handler opens and cancels the AI response stream. It classifies
// failures but never decides UI policy: the caller reads LastError and
// dispatches the matching reducer actions.
type Handler struct {
	mu              sync.Mutex
	cfg             Config
	client          *http.Client
	cancel          context.CancelFunc
	activeMessageID string
	lastErr         *apitypes.StructuredError

	tracer trace.Tracer
	chunks metric.Int64Counter
}

func NewHandler(cfg Config) *Handler {
	meter := otel.Meter("pratiko-chat")
	chunks, err := meter.Int64Counter(
		"chat.stream.chunks",
		metric.WithDescription("Streamed response chunks"),
	)
	if err != nil {
		chunks = nil
	}
	return &Handler{
		cfg:    cfg,
		client: newStreamClient(cfg),
		tracer: otel.Tracer("pratiko-chat"),
		chunks: chunks,
	}
}

// newStreamClient builds the transport for streaming. No overall client
// timeout: a healthy stream may outlive any fixed deadline, and ctx
// controls cancellation. The header timeout still catches a backend
// that accepts the connection and then hangs.
func newStreamClient(cfg Config) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: cfg.Timeout,
		},
	}
}

// SetConfig updates base URL and timeouts for subsequent streams.
func (h *Handler) SetConfig(cfg Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
	h.client = newStreamClient(cfg)
}

// LastError returns the classified error of the most recent stream that
// returned false.
func (h *Handler) LastError() *apitypes.StructuredError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// CancelStreaming aborts the in-flight stream. Cooperative and
// idempotent; safe to call when nothing is streaming. The transport
// abort is best-effort — clearing the active message id is what
// authoritatively stops delta delivery.
func (h *Handler) CancelStreaming() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.activeMessageID = ""
}

type streamChatReq struct {
	Query         string   `json:"query"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
}

type streamEvent struct {
	Type      string `json:"type"`
	Delta     string `json:"delta,omitempty"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// StartStreaming opens the stream and pumps deltas through onDelta until
// a terminal event. It returns true only on full successful completion;
// otherwise LastError carries the classification.
func (h *Handler) StartStreaming(ctx context.Context, req Request, onDelta DeltaFunc) bool {
	ctx, span := h.tracer.Start(ctx, "chat_stream")
	defer span.End()

	h.mu.Lock()
	if h.cancel != nil {
		h.lastErr = &apitypes.StructuredError{
			Type:      apitypes.ErrTypeServer,
			MessageIT: "Una risposta è già in corso. Attendi o interrompila.",
		}
		h.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.activeMessageID = req.MessageID
	h.lastErr = nil
	baseURL := h.cfg.BaseURL
	client := h.client
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.cancel != nil {
			h.cancel()
			h.cancel = nil
		}
		h.activeMessageID = ""
		h.mu.Unlock()
	}()

	ok, serr := h.run(ctx, client, baseURL, req, onDelta)
	if serr != nil {
		h.mu.Lock()
		h.lastErr = serr
		h.mu.Unlock()
	}
	return ok
}

func (h *Handler) run(ctx context.Context, client *http.Client, baseURL string, req Request, onDelta DeltaFunc) (bool, *apitypes.StructuredError) {
	body, err := json.Marshal(streamChatReq{
		Query:         req.Query,
		AttachmentIDs: req.AttachmentIDs,
	})
	if err != nil {
		return false, &apitypes.StructuredError{
			Type:      apitypes.ErrTypeNetwork,
			MessageIT: "Impossibile preparare la richiesta.",
		}
	}

	url := strings.TrimRight(baseURL, "/") + "/v1/chat/stream"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, &apitypes.StructuredError{
			Type:      apitypes.ErrTypeNetwork,
			MessageIT: "Impossibile preparare la richiesta.",
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+req.SessionToken)

	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return false, cancelledError()
		}
		return false, &apitypes.StructuredError{
			Type:      apitypes.ErrTypeNetwork,
			MessageIT: "Errore di connessione. Controlla la rete e riprova.",
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return false, decodeLimitError(resp.Body)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return false, &apitypes.StructuredError{
			Type:      apitypes.ErrTypeServer,
			MessageIT: "Si è verificato un errore del server. Riprova più tardi.",
			Detail:    msg,
		}
	}

	sc := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return false, &apitypes.StructuredError{
				Type:      apitypes.ErrTypeServer,
				MessageIT: "Risposta del server non valida.",
			}
		}

		switch ev.Type {
		case "chunk":
			if h.stillActive(req.MessageID) && ev.Delta != "" {
				if h.chunks != nil {
					h.chunks.Add(ctx, 1)
				}
				onDelta(req.MessageID, ev.Delta)
			}
		case "ping":
			// keep-alive, nothing to apply
		case "error":
			return false, &apitypes.StructuredError{
				Type:      apitypes.ErrTypeServer,
				MessageIT: "Si è verificato un errore del server. Riprova più tardi.",
			}
		case "done":
			return true, nil
		}
	}

	if err := sc.Err(); err != nil || ctx.Err() != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return false, cancelledError()
		}
		return false, &apitypes.StructuredError{
			Type:      apitypes.ErrTypeNetwork,
			MessageIT: "La connessione si è interrotta durante la risposta.",
		}
	}

	// Stream ended without a terminal event.
	return false, &apitypes.StructuredError{
		Type:      apitypes.ErrTypeNetwork,
		MessageIT: "La connessione si è interrotta durante la risposta.",
	}
}

func (h *Handler) stillActive(messageID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.activeMessageID == messageID
}

func cancelledError() *apitypes.StructuredError {
	return &apitypes.StructuredError{
		Type:      apitypes.ErrTypeCancelled,
		MessageIT: "Generazione interrotta.",
	}
}

// decodeLimitError parses the distinguished 429 payload. A malformed
// body still classifies as a usage limit, just without limit details.
func decodeLimitError(r io.Reader) *apitypes.StructuredError {
	b, _ := io.ReadAll(io.LimitReader(r, 16*1024))
	var serr apitypes.StructuredError
	if err := json.Unmarshal(b, &serr); err == nil && serr.Type == apitypes.ErrTypeUsageLimitExceeded {
		return &serr
	}
	return &apitypes.StructuredError{
		Type:      apitypes.ErrTypeUsageLimitExceeded,
		MessageIT: "Hai raggiunto il limite di utilizzo del tuo piano.",
	}
}
