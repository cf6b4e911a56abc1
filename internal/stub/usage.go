package stub

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mickgian/pratiko-chat/internal/apitypes"
)

// UsageStore accumulates per-window spend in redis. A window key is an
// INCRBYFLOAT accumulator with TTL = window length: only increments, an
// explicit reset, or the TTL rollover ever touch it, which keeps the
// cost monotone within a window.
type UsageStore struct {
	rdb      *redis.Client
	limit5h  float64
	limit7d  float64
	planSlug string
	planName string
}

func NewUsageStore(rdb *redis.Client, limit5h, limit7d float64, planSlug, planName string) *UsageStore {
	return &UsageStore{
		rdb:      rdb,
		limit5h:  limit5h,
		limit7d:  limit7d,
		planSlug: planSlug,
		planName: planName,
	}
}

func usageKey(windowType string) string {
	return "usage:cost:" + windowType
}

func windowDuration(windowType string) time.Duration {
	if windowType == apitypes.Window7d {
		return 7 * 24 * time.Hour
	}
	return 5 * time.Hour
}

func (u *UsageStore) limitFor(windowType string) float64 {
	if windowType == apitypes.Window7d {
		return u.limit7d
	}
	return u.limit5h
}

// AddCost attributes spend to both windows.
func (u *UsageStore) AddCost(ctx context.Context, eur float64) error {
	for _, wt := range []string{apitypes.Window5h, apitypes.Window7d} {
		key := usageKey(wt)
		if err := u.rdb.IncrByFloat(ctx, key, eur).Err(); err != nil {
			return fmt.Errorf("failed to add cost to %s window: %w", wt, err)
		}
		ttl, err := u.rdb.PTTL(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read %s window ttl: %w", wt, err)
		}
		if ttl < 0 {
			if err := u.rdb.Expire(ctx, key, windowDuration(wt)).Err(); err != nil {
				return fmt.Errorf("failed to arm %s window: %w", wt, err)
			}
		}
	}
	return nil
}

// Window reads one window. A window that has never accumulated cost has
// no TTL, so its reset fields stay nil — that is the "reset pending"
// state clients must render with the fixed fallback.
func (u *UsageStore) Window(ctx context.Context, windowType string) (apitypes.UsageWindow, error) {
	key := usageKey(windowType)

	cost, err := u.rdb.Get(ctx, key).Float64()
	if err == redis.Nil {
		cost = 0
	} else if err != nil {
		return apitypes.UsageWindow{}, fmt.Errorf("failed to read %s window: %w", windowType, err)
	}

	limit := u.limitFor(windowType)
	w := apitypes.UsageWindow{
		WindowType:      windowType,
		CurrentCostEUR:  cost,
		LimitCostEUR:    limit,
		UsagePercentage: cost / limit * 100,
	}

	ttl, err := u.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return apitypes.UsageWindow{}, fmt.Errorf("failed to read %s window ttl: %w", windowType, err)
	}
	if ttl > 0 {
		resetAt := time.Now().Add(ttl).UTC()
		minutes := int(math.Ceil(ttl.Minutes()))
		w.ResetAt = &resetAt
		w.ResetInMinutes = &minutes
	}
	return w, nil
}

// Simulate sets a window to an arbitrary percentage of its ceiling.
func (u *UsageStore) Simulate(ctx context.Context, windowType string, targetPercentage float64) error {
	cost := targetPercentage / 100 * u.limitFor(windowType)
	return u.rdb.Set(ctx, usageKey(windowType), cost, windowDuration(windowType)).Err()
}

// Reset clears both windows.
func (u *UsageStore) Reset(ctx context.Context) error {
	return u.rdb.Del(ctx, usageKey(apitypes.Window5h), usageKey(apitypes.Window7d)).Err()
}

// Exceeded reports the first exhausted window, 5h checked before 7d.
func (u *UsageStore) Exceeded(ctx context.Context) (*apitypes.LimitInfo, error) {
	for _, wt := range []string{apitypes.Window5h, apitypes.Window7d} {
		w, err := u.Window(ctx, wt)
		if err != nil {
			return nil, err
		}
		if w.CurrentCostEUR >= w.LimitCostEUR {
			return &apitypes.LimitInfo{
				CostConsumedEUR: w.CurrentCostEUR,
				CostLimitEUR:    w.LimitCostEUR,
				ResetAt:         w.ResetAt,
				ResetInMinutes:  w.ResetInMinutes,
			}, nil
		}
	}
	return nil, nil
}

// Status assembles the full usage snapshot.
func (u *UsageStore) Status(ctx context.Context) (*apitypes.UsageStatus, error) {
	w5, err := u.Window(ctx, apitypes.Window5h)
	if err != nil {
		return nil, err
	}
	w7, err := u.Window(ctx, apitypes.Window7d)
	if err != nil {
		return nil, err
	}
	status := &apitypes.UsageStatus{
		PlanSlug: u.planSlug,
		PlanName: u.planName,
		Window5h: w5,
		Window7d: w7,
		Credits:  apitypes.Credits{BalanceEUR: 0, ExtraUsageEnabled: false},
	}
	if w5.CurrentCostEUR >= w5.LimitCostEUR || w7.CurrentCostEUR >= w7.LimitCostEUR {
		status.MessageIT = "Hai raggiunto il limite di utilizzo del tuo piano."
	}
	return status, nil
}
