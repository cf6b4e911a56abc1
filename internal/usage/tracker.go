package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mickgian/pratiko-chat/internal/api"
	"github.com/mickgian/pratiko-chat/internal/apitypes"
)

// Tracker reads the two sliding-window cost metrics and keeps the
// client-side mirror that is set after a 429 and cleared on reset.
type Tracker struct {
	api    *api.Client
	logger *slog.Logger

	mu         sync.Mutex
	lastStatus *apitypes.UsageStatus
	blocked    bool
	limit      *apitypes.LimitInfo
}

func NewTracker(apiClient *api.Client, logger *slog.Logger) *Tracker {
	return &Tracker{api: apiClient, logger: logger}
}

// GetUsageStatus fetches the backend status and refreshes the mirror.
func (t *Tracker) GetUsageStatus(ctx context.Context) (*apitypes.UsageStatus, error) {
	status, err := t.api.UsageStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch usage status: %w", err)
	}
	t.mu.Lock()
	t.lastStatus = status
	t.mu.Unlock()
	return status, nil
}

// LastStatus returns the most recently mirrored status, nil if none.
func (t *Tracker) LastStatus() *apitypes.UsageStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastStatus
}

// MarkLimitExceeded records the client-side block after a 429.
func (t *Tracker) MarkLimitExceeded(info apitypes.LimitInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blocked = true
	cp := info
	t.limit = &cp
}

// Blocked reports whether a usage block is cached client-side. The block
// expires with the window it mirrors: once the reset moment passes the
// flag clears itself, and a block without a known reset moment is
// re-checked against the server instead of being trusted forever.
func (t *Tracker) Blocked(ctx context.Context) (bool, *apitypes.LimitInfo) {
	t.mu.Lock()
	blocked := t.blocked
	limit := t.limit
	t.mu.Unlock()

	if !blocked {
		return false, nil
	}
	if limit != nil && limit.ResetAt != nil {
		if time.Now().After(*limit.ResetAt) {
			t.logger.Info("usage window rolled over, dropping client-side block")
			t.ClearLimit()
			return false, nil
		}
		return true, limit
	}

	// No reset moment known: probe the server rather than blocking
	// indefinitely on a stale flag.
	status, err := t.GetUsageStatus(ctx)
	if err != nil {
		return true, limit
	}
	if windowExceeded(status.Window5h) || windowExceeded(status.Window7d) {
		return true, limit
	}
	t.ClearLimit()
	return false, nil
}

func windowExceeded(w apitypes.UsageWindow) bool {
	return w.CurrentCostEUR >= w.LimitCostEUR
}

// ClearLimit drops the cached block, e.g. after a bypass.
func (t *Tracker) ClearLimit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blocked = false
	t.limit = nil
}

// SimulateUsage sets a window to an arbitrary percentage (privileged QA).
func (t *Tracker) SimulateUsage(ctx context.Context, windowType string, targetPercentage float64) error {
	if windowType != apitypes.Window5h && windowType != apitypes.Window7d {
		return fmt.Errorf("unknown window type: %s", windowType)
	}
	return t.api.SimulateUsage(ctx, windowType, targetPercentage)
}

// ResetUsage clears both windows server-side and drops every
// client-cached block flag, so no stale blocked state survives a reset.
func (t *Tracker) ResetUsage(ctx context.Context) error {
	if err := t.api.ResetUsage(ctx); err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	t.ClearLimit()
	t.mu.Lock()
	t.lastStatus = nil
	t.mu.Unlock()
	return nil
}
