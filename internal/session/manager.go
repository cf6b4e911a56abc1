package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mickgian/pratiko-chat/internal/api"
	"github.com/mickgian/pratiko-chat/internal/apitypes"
	"github.com/mickgian/pratiko-chat/internal/localstore"
)

const defaultSessionName = "Nuova conversazione"

// Manager owns the session list and the "current session" pointer.
// Sessions are created lazily: nothing here allocates one until
// CreateNewSession is called, and concurrent callers of that method share
// a single underlying network call.
type Manager struct {
	api    *api.Client
	store  *localstore.Store
	logger *slog.Logger

	mu      sync.Mutex
	current *apitypes.Session

	createFlight singleflight.Group
}

func NewManager(apiClient *api.Client, store *localstore.Store, logger *slog.Logger) *Manager {
	return &Manager{api: apiClient, store: store, logger: logger}
}

// Current returns the active session, or nil when none exists yet.
func (m *Manager) Current() *apitypes.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	cp := *m.current
	return &cp
}

// LoadSessions merges the server list with locally cached activity and
// returns it most recently updated first. It never creates a session.
func (m *Manager) LoadSessions(ctx context.Context) ([]apitypes.Session, error) {
	sessions, err := m.api.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	local, err := m.store.ListSessions(ctx)
	if err != nil {
		m.logger.Warn("failed to read local session cache", "error", err)
		local = nil
	}
	byID := make(map[string]localstore.Session, len(local))
	for _, l := range local {
		byID[l.ID] = l
	}

	m.mu.Lock()
	currentID := ""
	if m.current != nil {
		currentID = m.current.ID
	}
	m.mu.Unlock()

	for i := range sessions {
		if l, ok := byID[sessions[i].ID]; ok {
			if sessions[i].Token == "" {
				sessions[i].Token = l.Token
			}
			if l.UpdatedAt.After(sessions[i].UpdatedAt) {
				sessions[i].UpdatedAt = l.UpdatedAt
			}
		}
		sessions[i].IsActive = sessions[i].ID == currentID
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// CreateNewSession creates a session, marks it active and persists it for
// resumption. A burst of concurrent calls performs exactly one network
// request: the in-flight result is memoized and cleared only after it
// resolves, success or failure.
func (m *Manager) CreateNewSession(ctx context.Context) (*apitypes.Session, error) {
	v, err, _ := m.createFlight.Do("create", func() (any, error) {
		sess, err := m.api.CreateSession(ctx, defaultSessionName)
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		sess.IsActive = true

		if err := m.adopt(ctx, sess); err != nil {
			m.logger.Warn("failed to persist new session locally", "session_id", sess.ID, "error", err)
		}
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	sess := v.(*apitypes.Session)
	cp := *sess
	return &cp, nil
}

// EnsureSession returns the current session, creating one lazily if none
// exists. An existing session is returned without any network call.
func (m *Manager) EnsureSession(ctx context.Context) (*apitypes.Session, error) {
	if cur := m.Current(); cur != nil {
		return cur, nil
	}
	return m.CreateNewSession(ctx)
}

// adopt makes sess the current session and persists the choice.
func (m *Manager) adopt(ctx context.Context, sess *apitypes.Session) error {
	m.mu.Lock()
	cp := *sess
	m.current = &cp
	m.mu.Unlock()

	if err := m.store.SaveSession(ctx, &localstore.Session{
		ID:        sess.ID,
		Token:     sess.Token,
		Name:      sess.Name,
		IsActive:  true,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}); err != nil {
		return err
	}
	if err := m.store.MarkActive(ctx, sess.ID); err != nil {
		return err
	}
	return m.store.SetCurrentSessionID(ctx, sess.ID)
}

// SwitchToSession loads the history for id, marks it active (deactivating
// the previous session) and persists the choice for the next startup.
func (m *Manager) SwitchToSession(ctx context.Context, id string) (*apitypes.Session, []apitypes.Message, error) {
	token, err := m.TokenFor(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	msgs, err := m.api.SessionMessages(ctx, token, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session history: %w", err)
	}

	sess := &apitypes.Session{ID: id, Token: token, Name: defaultSessionName, IsActive: true}
	if local, err := m.store.GetSession(ctx, id); err == nil {
		sess.Name = local.Name
		sess.CreatedAt = local.CreatedAt
		sess.UpdatedAt = local.UpdatedAt
	}
	sess.MessageCount = len(msgs)

	if err := m.adopt(ctx, sess); err != nil {
		m.logger.Warn("failed to persist session switch", "session_id", id, "error", err)
	}
	return sess, msgs, nil
}

// UpdateSessionName applies the rename locally at once and reconciles
// with the backend in the background; reconciliation failures are logged,
// never surfaced mid-typing.
func (m *Manager) UpdateSessionName(ctx context.Context, id, name string) {
	m.mu.Lock()
	if m.current != nil && m.current.ID == id {
		m.current.Name = name
	}
	m.mu.Unlock()

	if local, err := m.store.GetSession(ctx, id); err == nil {
		local.Name = name
		if err := m.store.SaveSession(ctx, local); err != nil {
			m.logger.Warn("failed to persist rename locally", "session_id", id, "error", err)
		}
	}

	token, err := m.TokenFor(ctx, id)
	if err != nil {
		m.logger.Warn("rename reconciliation skipped", "session_id", id, "error", err)
		return
	}
	go func(ctx context.Context) {
		if err := m.api.RenameSession(ctx, token, id, name); err != nil {
			m.logger.Warn("failed to reconcile rename", "session_id", id, "error", err)
		}
	}(context.WithoutCancel(ctx))
}

// MarkSessionAsUsed bumps local activity and touches the backend in the
// background; failures are logged only.
func (m *Manager) MarkSessionAsUsed(ctx context.Context, id string) {
	if local, err := m.store.GetSession(ctx, id); err == nil {
		if err := m.store.SaveSession(ctx, local); err != nil {
			m.logger.Warn("failed to bump local activity", "session_id", id, "error", err)
		}
	}

	token, err := m.TokenFor(ctx, id)
	if err != nil {
		m.logger.Warn("touch skipped", "session_id", id, "error", err)
		return
	}
	go func(ctx context.Context) {
		if err := m.api.TouchSession(ctx, token, id); err != nil {
			m.logger.Warn("failed to touch session", "session_id", id, "error", err)
		}
	}(context.WithoutCancel(ctx))
}

// DeleteSession removes the session everywhere. When the deleted session
// was the active one it immediately creates exactly one replacement, so
// callers are never left without a current session.
func (m *Manager) DeleteSession(ctx context.Context, id string) (replacement *apitypes.Session, wasActive bool, err error) {
	token, err := m.TokenFor(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if err := m.api.DeleteSession(ctx, token, id); err != nil {
		return nil, false, fmt.Errorf("failed to delete session: %w", err)
	}
	if err := m.store.DeleteSession(ctx, id); err != nil {
		m.logger.Warn("failed to delete local session", "session_id", id, "error", err)
	}

	m.mu.Lock()
	wasActive = m.current != nil && m.current.ID == id
	if wasActive {
		m.current = nil
	}
	m.mu.Unlock()

	if !wasActive {
		return nil, false, nil
	}

	if err := m.store.ClearCurrentSessionID(ctx); err != nil {
		m.logger.Warn("failed to clear persisted session id", "error", err)
	}
	repl, err := m.CreateNewSession(ctx)
	if err != nil {
		return nil, true, fmt.Errorf("failed to create replacement session: %w", err)
	}
	return repl, true, nil
}

// Resume restores the persisted current session after a restart. It
// returns (nil, nil, nil) when there is nothing to resume: creation stays
// lazy until the first send.
func (m *Manager) Resume(ctx context.Context) (*apitypes.Session, []apitypes.Message, error) {
	id, err := m.store.CurrentSessionID(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read persisted session id: %w", err)
	}
	if id == "" {
		return nil, nil, nil
	}
	return m.SwitchToSession(ctx, id)
}

// TokenFor resolves the auth token for a session from the current
// pointer or the local cache.
func (m *Manager) TokenFor(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	if m.current != nil && m.current.ID == id && m.current.Token != "" {
		token := m.current.Token
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	local, err := m.store.GetSession(ctx, id)
	if err != nil || local.Token == "" {
		return "", fmt.Errorf("no token known for session %s", id)
	}
	return local.Token, nil
}
