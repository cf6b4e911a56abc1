package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mickgian/pratiko-chat/internal/api"
	"github.com/mickgian/pratiko-chat/internal/apitypes"
	"github.com/mickgian/pratiko-chat/internal/chatstate"
	"github.com/mickgian/pratiko-chat/internal/hybrid"
	"github.com/mickgian/pratiko-chat/internal/localstore"
	"github.com/mickgian/pratiko-chat/internal/session"
	"github.com/mickgian/pratiko-chat/internal/stream"
	"github.com/mickgian/pratiko-chat/internal/usage"
)

// Observer sees every dispatched action together with the state that
// resulted from it.
type Observer func(action chatstate.Action, state chatstate.State)

// Controller coordinates the chat flow: it owns the reducer state and is
// the only place that dispatches actions. Sessions stay lazy; nothing is
// created until the first real send.
type Controller struct {
	sessions *session.Manager
	streamer *stream.Handler
	usage    *usage.Tracker
	api      *api.Client
	store    *localstore.Store
	migrator *hybrid.Migrator
	logger   *slog.Logger

	mu          sync.Mutex
	state       chatstate.State
	observer    Observer
	attachments []string
	uploading   bool
}

func New(
	sessions *session.Manager,
	streamer *stream.Handler,
	tracker *usage.Tracker,
	apiClient *api.Client,
	store *localstore.Store,
	migrator *hybrid.Migrator,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		sessions: sessions,
		streamer: streamer,
		usage:    tracker,
		api:      apiClient,
		store:    store,
		migrator: migrator,
		logger:   logger,
	}
}

// SetObserver registers a sink for dispatched actions. Pass nil to
// remove it.
func (c *Controller) SetObserver(obs Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = obs
}

// State returns a snapshot of the current chat state.
func (c *Controller) State() chatstate.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) dispatch(a chatstate.Action) chatstate.State {
	c.mu.Lock()
	c.state = chatstate.Reduce(c.state, a)
	st := c.state
	obs := c.observer
	c.mu.Unlock()
	if obs != nil {
		obs(a, st)
	}
	return st
}

// Send handles one line of user input. Slash commands that short-circuit
// return their dialog text; everything else, unrecognized commands
// included, goes to the assistant as a regular query.
func (c *Controller) Send(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)

	if isUsageCommand(text) {
		// No session creation, no transcript entry: exactly one status
		// fetch and a rendered dialog.
		status, err := c.usage.GetUsageStatus(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to load usage status: %w", err)
		}
		return usage.RenderStatus(status), nil
	}

	c.mu.Lock()
	if c.state.IsStreaming {
		c.mu.Unlock()
		return "", errors.New("Una risposta è già in corso. Attendi o interrompila.")
	}
	if c.uploading {
		c.mu.Unlock()
		return "", errors.New("Caricamento del documento in corso. Attendi il completamento.")
	}
	attachmentIDs := c.attachments
	c.mu.Unlock()

	if text == "" {
		if len(attachmentIDs) > 0 {
			return "", errors.New("Aggiungi una domanda ai documenti allegati.")
		}
		return "", nil
	}

	if blocked, _ := c.usage.Blocked(ctx); blocked {
		return "", errors.New("Hai raggiunto il limite di utilizzo del tuo piano.")
	}
	if c.State().UsageLimit != nil {
		// The block expired with its window; the banner goes with it.
		c.dispatch(chatstate.ClearUsageLimit{})
	}

	// Lazy creation happens here and nowhere earlier. On failure nothing
	// has touched the transcript yet.
	sess, err := c.sessions.EnsureSession(ctx)
	if err != nil {
		return "", err
	}
	if c.State().SessionID == "" {
		// First turn of a lazily created session: bind the transcript
		// to it.
		c.dispatch(chatstate.LoadSession{SessionID: sess.ID, Messages: nil})
	}

	userMsg := apitypes.Message{
		ID:        uuid.NewString(),
		Type:      apitypes.MessageTypeUser,
		Content:   text,
		Timestamp: time.Now(),
	}
	for _, id := range attachmentIDs {
		userMsg.Attachments = append(userMsg.Attachments, apitypes.Attachment{ID: id})
	}
	c.dispatch(chatstate.AddUserMessage{Message: userMsg})
	if err := c.store.SaveMessage(ctx, sess.ID, userMsg); err != nil {
		c.logger.Warn("failed to cache user message", "session_id", sess.ID, "error", err)
	}

	placeholderID := uuid.NewString()
	c.dispatch(chatstate.StartAIStream{MessageID: placeholderID})

	c.mu.Lock()
	c.attachments = nil
	c.mu.Unlock()

	ok := c.streamer.StartStreaming(ctx, stream.Request{
		SessionToken:  sess.Token,
		Query:         text,
		AttachmentIDs: attachmentIDs,
		MessageID:     placeholderID,
	}, func(messageID, delta string) {
		c.dispatch(chatstate.AppendToken{MessageID: messageID, Delta: delta})
	})

	if ok {
		st := c.dispatch(chatstate.CompleteStream{MessageID: placeholderID})
		c.persistReply(ctx, sess.ID, placeholderID, st)
		c.sessions.MarkSessionAsUsed(ctx, sess.ID)
		return "", nil
	}

	serr := c.streamer.LastError()
	if serr == nil {
		serr = &apitypes.StructuredError{
			Type:      apitypes.ErrTypeServer,
			MessageIT: "Si è verificato un errore del server. Riprova più tardi.",
		}
	}
	switch {
	case serr.IsUsageLimit():
		info := apitypes.LimitInfo{}
		if serr.LimitInfo != nil {
			info = *serr.LimitInfo
		}
		// Order is load-bearing: the limit banner must exist before the
		// stream is force-stopped.
		c.usage.MarkLimitExceeded(info)
		c.dispatch(chatstate.SetUsageLimit{Info: info})
		c.dispatch(chatstate.ForceStopStreaming{})
		return "", serr
	case serr.IsCancelled():
		// User cancellation keeps the partial answer.
		st := c.dispatch(chatstate.CompleteStream{MessageID: placeholderID})
		c.persistReply(ctx, sess.ID, placeholderID, st)
		return "", nil
	default:
		c.dispatch(chatstate.SetError{MessageID: placeholderID, Err: serr})
		return "", serr
	}
}

func isUsageCommand(text string) bool {
	return strings.EqualFold(text, "/utilizzo")
}

// persistReply caches the finished (or partial, on cancel) AI message
// locally so the hybrid store keeps a complete transcript.
func (c *Controller) persistReply(ctx context.Context, sessionID, messageID string, st chatstate.State) {
	for _, m := range st.Messages {
		if m.ID == messageID {
			if m.Content == "" {
				return
			}
			if err := c.store.SaveMessage(ctx, sessionID, m); err != nil {
				c.logger.Warn("failed to cache reply", "session_id", sessionID, "error", err)
			}
			return
		}
	}
}

// Cancel aborts the in-flight stream. Safe to call when idle.
func (c *Controller) Cancel() {
	c.streamer.CancelStreaming()
}

// Attach uploads a document and queues its attachment id for the next
// send. Only one upload runs at a time.
func (c *Controller) Attach(ctx context.Context, filename string, r io.Reader) (*apitypes.Attachment, error) {
	c.mu.Lock()
	if c.uploading {
		c.mu.Unlock()
		return nil, errors.New("Caricamento del documento in corso. Attendi il completamento.")
	}
	c.uploading = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.uploading = false
		c.mu.Unlock()
	}()

	att, err := c.api.UploadDocument(ctx, filename, r)
	if err != nil {
		return nil, fmt.Errorf("failed to upload document: %w", err)
	}
	c.mu.Lock()
	c.attachments = append(c.attachments, att.ID)
	c.mu.Unlock()
	return att, nil
}

// PendingAttachments lists the attachment ids queued for the next send.
func (c *Controller) PendingAttachments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.attachments...)
}

// Sessions returns the merged, most-recent-first session list.
func (c *Controller) Sessions(ctx context.Context) ([]apitypes.Session, error) {
	return c.sessions.LoadSessions(ctx)
}

// NewSession explicitly creates and activates a fresh session.
func (c *Controller) NewSession(ctx context.Context) (*apitypes.Session, error) {
	sess, err := c.sessions.CreateNewSession(ctx)
	if err != nil {
		return nil, err
	}
	c.dispatch(chatstate.LoadSession{SessionID: sess.ID, Messages: nil})
	return sess, nil
}

// SwitchTo activates another session and loads its history into the
// transcript.
func (c *Controller) SwitchTo(ctx context.Context, id string) (*apitypes.Session, error) {
	if c.State().IsStreaming {
		return nil, errors.New("Una risposta è già in corso. Attendi o interrompila.")
	}
	sess, msgs, err := c.sessions.SwitchToSession(ctx, id)
	if err != nil {
		return nil, err
	}
	c.dispatch(chatstate.LoadSession{SessionID: sess.ID, Messages: msgs})
	return sess, nil
}

// Rename applies optimistically; backend reconciliation happens in the
// background.
func (c *Controller) Rename(ctx context.Context, id, name string) {
	c.sessions.UpdateSessionName(ctx, id, name)
}

// Delete removes a session. Deleting the active one clears the
// transcript and switches to the automatically created replacement.
func (c *Controller) Delete(ctx context.Context, id string) (*apitypes.Session, error) {
	repl, wasActive, err := c.sessions.DeleteSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if wasActive && repl != nil {
		c.dispatch(chatstate.LoadSession{SessionID: repl.ID, Messages: nil})
	}
	return repl, nil
}

// ResetUsage clears both windows server-side and removes the local
// banner and block flag.
func (c *Controller) ResetUsage(ctx context.Context) error {
	if err := c.usage.ResetUsage(ctx); err != nil {
		return err
	}
	c.dispatch(chatstate.ClearUsageLimit{})
	return nil
}

// MountSession restores the persisted session on startup and runs the
// one-shot history migration for it. The returned notice is non-empty
// when migration failed and should be shown as dismissible text.
func (c *Controller) MountSession(ctx context.Context) (notice string, err error) {
	sess, msgs, err := c.sessions.Resume(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", nil
	}
	c.dispatch(chatstate.LoadSession{SessionID: sess.ID, Messages: msgs})

	reload := func(ctx context.Context) error {
		fresh, err := c.api.SessionMessages(ctx, sess.Token, sess.ID)
		if err != nil {
			return err
		}
		c.dispatch(chatstate.LoadSession{SessionID: sess.ID, Messages: fresh})
		return nil
	}
	_, notice = c.migrator.RunOnMount(ctx, sess.Token, sess.ID, reload)
	return notice, nil
}
