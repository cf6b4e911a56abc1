package hybrid

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mickgian/pratiko-chat/internal/api"
	"github.com/mickgian/pratiko-chat/internal/localstore"
)

// ReloadFunc re-reads the backend-sourced view after a successful import.
type ReloadFunc func(ctx context.Context) error

// Report describes one migration check or run.
type Report struct {
	SessionID    string
	LocalCount   int
	BackendCount int
	Needed       bool
	Imported     int
}

// Migrator performs the one-way, non-destructive import from the legacy
// local store into the backend. The local store is never deleted; it
// stays available as fallback.
type Migrator struct {
	api    *api.Client
	store  *localstore.Store
	logger *slog.Logger
}

func NewMigrator(apiClient *api.Client, store *localstore.Store, logger *slog.Logger) *Migrator {
	return &Migrator{api: apiClient, store: store, logger: logger}
}

// Check compares message counts. Migration is needed only when the local
// store strictly exceeds the backend; equal or fewer never triggers it.
// Count comparison is deliberate: the source system performs no
// content-level reconciliation of diverged histories.
func (m *Migrator) Check(ctx context.Context, token, sessionID string) (Report, error) {
	localCount, err := m.store.CountMessages(ctx, sessionID)
	if err != nil {
		return Report{}, fmt.Errorf("failed to count local messages: %w", err)
	}
	backendMsgs, err := m.api.SessionMessages(ctx, token, sessionID)
	if err != nil {
		return Report{}, fmt.Errorf("failed to fetch backend history: %w", err)
	}
	return Report{
		SessionID:    sessionID,
		LocalCount:   localCount,
		BackendCount: len(backendMsgs),
		Needed:       localCount > len(backendMsgs),
	}, nil
}

// MigrateToBackend imports local messages and then triggers exactly one
// reload of the backend-sourced view. A no-op when migration is not
// needed.
func (m *Migrator) MigrateToBackend(ctx context.Context, token, sessionID string, reload ReloadFunc) (Report, error) {
	report, err := m.Check(ctx, token, sessionID)
	if err != nil {
		return report, err
	}
	if !report.Needed {
		return report, nil
	}

	msgs, err := m.store.MessagesBySession(ctx, sessionID)
	if err != nil {
		return report, fmt.Errorf("failed to read local messages: %w", err)
	}
	imported, err := m.api.ImportMessages(ctx, token, sessionID, msgs)
	if err != nil {
		return report, fmt.Errorf("failed to import messages: %w", err)
	}
	report.Imported = imported

	if reload != nil {
		if err := reload(ctx); err != nil {
			return report, fmt.Errorf("failed to reload after migration: %w", err)
		}
	}
	return report, nil
}

// RunOnMount is the once-per-session-mount entry point. Failure is
// non-fatal: it is logged and returned as a dismissible notice; normal
// chat continues on whichever store is more complete.
func (m *Migrator) RunOnMount(ctx context.Context, token, sessionID string, reload ReloadFunc) (Report, string) {
	report, err := m.MigrateToBackend(ctx, token, sessionID, reload)
	if err != nil {
		m.logger.Warn("history migration failed", "session_id", sessionID, "error", err)
		return report, "Sincronizzazione della cronologia non riuscita. La conversazione resta disponibile."
	}
	if report.Imported > 0 {
		m.logger.Info("history migrated",
			"session_id", sessionID,
			"local_count", report.LocalCount,
			"backend_count", report.BackendCount,
			"imported", report.Imported,
		)
	}
	return report, ""
}
