package usage

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mickgian/pratiko-chat/internal/api"
	"github.com/mickgian/pratiko-chat/internal/apitypes"
	"github.com/mickgian/pratiko-chat/internal/stub"
	"github.com/mickgian/pratiko-chat/internal/telemetry"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()

	store, err := stub.OpenStore("")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	usage := stub.NewUsageStore(rdb, 2.0, 10.0, "professionale", "Piano Professionale")
	srv := httptest.NewServer(stub.NewRouter(stub.NewServer(store, usage, "test-secret", telemetry.NopLogger())))
	t.Cleanup(srv.Close)

	return NewTracker(api.NewClient(srv.URL, 5*time.Second), telemetry.NopLogger())
}

func TestGetUsageStatus_MirrorsLastStatus(t *testing.T) {
	tr := newTracker(t)

	if tr.LastStatus() != nil {
		t.Fatal("fresh tracker must have no mirrored status")
	}
	status, err := tr.GetUsageStatus(context.Background())
	if err != nil {
		t.Fatalf("GetUsageStatus: %v", err)
	}
	if status.PlanName != "Piano Professionale" {
		t.Fatalf("unexpected plan: %q", status.PlanName)
	}
	if tr.LastStatus() == nil {
		t.Fatal("status must be mirrored after a fetch")
	}
}

func TestMarkLimitExceeded_SetsBlock(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	if blocked, _ := tr.Blocked(ctx); blocked {
		t.Fatal("fresh tracker must not be blocked")
	}
	resetAt := time.Now().Add(5 * time.Hour)
	tr.MarkLimitExceeded(apitypes.LimitInfo{CostConsumedEUR: 2.4, CostLimitEUR: 2.0, ResetAt: &resetAt})
	blocked, info := tr.Blocked(ctx)
	if !blocked {
		t.Fatal("tracker must be blocked after a limit")
	}
	if info == nil || info.CostLimitEUR != 2.0 {
		t.Fatalf("limit info must be kept, got %+v", info)
	}
}

func TestBlocked_ExpiresWithWindowRollover(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	resetAt := time.Now().Add(-time.Hour)
	tr.MarkLimitExceeded(apitypes.LimitInfo{CostConsumedEUR: 2.0, CostLimitEUR: 2.0, ResetAt: &resetAt})

	blocked, info := tr.Blocked(ctx)
	if blocked || info != nil {
		t.Fatal("a block whose window already rolled over must clear itself")
	}
	// Once expired it stays cleared.
	if blocked, _ := tr.Blocked(ctx); blocked {
		t.Fatal("expired block must not come back")
	}
}

func TestBlocked_NilResetProbesServer(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	// Server windows are clear: a block with no reset moment must not
	// outlive a probe.
	tr.MarkLimitExceeded(apitypes.LimitInfo{CostConsumedEUR: 2.0, CostLimitEUR: 2.0})
	if blocked, _ := tr.Blocked(ctx); blocked {
		t.Fatal("probe against a clear server must drop the block")
	}

	// With the server still exhausted the block stands.
	if err := tr.SimulateUsage(ctx, apitypes.Window5h, 100); err != nil {
		t.Fatalf("SimulateUsage: %v", err)
	}
	tr.MarkLimitExceeded(apitypes.LimitInfo{CostConsumedEUR: 2.0, CostLimitEUR: 2.0})
	if blocked, _ := tr.Blocked(ctx); !blocked {
		t.Fatal("probe against an exhausted server must keep the block")
	}
}

func TestResetUsage_ClearsEveryCachedFlag(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	if err := tr.SimulateUsage(ctx, apitypes.Window5h, 100); err != nil {
		t.Fatalf("SimulateUsage: %v", err)
	}
	if _, err := tr.GetUsageStatus(ctx); err != nil {
		t.Fatalf("GetUsageStatus: %v", err)
	}
	tr.MarkLimitExceeded(apitypes.LimitInfo{CostConsumedEUR: 2.0, CostLimitEUR: 2.0})

	if err := tr.ResetUsage(ctx); err != nil {
		t.Fatalf("ResetUsage: %v", err)
	}
	if blocked, info := tr.Blocked(ctx); blocked || info != nil {
		t.Fatal("reset must drop the client-side block")
	}
	if tr.LastStatus() != nil {
		t.Fatal("reset must drop the stale mirrored status")
	}

	status, err := tr.GetUsageStatus(ctx)
	if err != nil {
		t.Fatalf("GetUsageStatus: %v", err)
	}
	if status.Window5h.CurrentCostEUR != 0 {
		t.Fatalf("server-side windows must be cleared, got %v", status.Window5h.CurrentCostEUR)
	}
}

func TestSimulateUsage_RejectsUnknownWindow(t *testing.T) {
	tr := newTracker(t)
	if err := tr.SimulateUsage(context.Background(), "24h", 50); err == nil {
		t.Fatal("unknown window type must be rejected")
	}
}
