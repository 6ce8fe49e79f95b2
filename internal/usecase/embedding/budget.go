package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/postmap/internal/domain"
)

// BudgetAction defines behavior when the token budget is exhausted.
type BudgetAction string

const (
	// BudgetActionWarn logs and lets the request through.
	BudgetActionWarn BudgetAction = "warn"
	// BudgetActionReject fails the request with ErrEmbeddingQuotaExceeded.
	BudgetActionReject BudgetAction = "reject"
)

// ParseBudgetAction validates a configured action, empty means warn.
func ParseBudgetAction(s string) (BudgetAction, error) {
	switch BudgetAction(s) {
	case "":
		return BudgetActionWarn, nil
	case BudgetActionWarn, BudgetActionReject:
		return BudgetAction(s), nil
	default:
		return "", fmt.Errorf("budget action must be warn or reject, got %q", s)
	}
}

// BudgetStore persists counters. IncrBy may be retried.
type BudgetStore interface {
	IncrBy(ctx context.Context, key string, val int64) error
	Get(ctx context.Context, key string) (int64, error)
}

// BudgetOption configures a BudgetTracker.
type BudgetOption func(*BudgetTracker)

// WithBudgetStore attaches write-behind persistence. Call Load to read the
// current counters back.
func WithBudgetStore(s BudgetStore) BudgetOption {
	return func(b *BudgetTracker) { b.store = s }
}

// WithClock overrides time.Now, mostly for rollover tests.
func WithClock(now func() time.Time) BudgetOption {
	return func(b *BudgetTracker) { b.now = now }
}

// BudgetUsage is a point-in-time view of the counters.
type BudgetUsage struct {
	DailyUsed    int64
	DailyLimit   int64
	MonthlyUsed  int64
	MonthlyLimit int64
}

// BudgetTracker keeps token counters in memory and writes them behind to an
// optional store. Check never leaves the process.
type BudgetTracker struct {
	mu         sync.Mutex
	provider   string
	action     BudgetAction
	daily      window
	monthly    window
	store      BudgetStore
	now        func() time.Time
	logger     *zap.Logger
	persistTTL time.Duration
}

type window struct {
	used  int64
	limit int64
	start time.Time
}

// remaining returns -1 for an unlimited window.
func (w window) remaining() int64 {
	if w.limit == 0 {
		return -1
	}
	return max(w.limit-w.used, 0)
}

func (w window) exceeded() bool {
	return w.limit > 0 && w.used >= w.limit
}

// NewBudgetTracker creates a tracker. A zero limit disables that window.
func NewBudgetTracker(
	provider string, dailyLimit, monthlyLimit int64,
	action BudgetAction, logger *zap.Logger, opts ...BudgetOption,
) *BudgetTracker {
	b := &BudgetTracker{
		provider:   provider,
		action:     action,
		daily:      window{limit: dailyLimit},
		monthly:    window{limit: monthlyLimit},
		now:        time.Now,
		logger:     logger,
		persistTTL: 2 * time.Second,
	}
	for _, o := range opts {
		o(b)
	}
	now := b.now().UTC()
	b.daily.start = startOfDay(now)
	b.monthly.start = startOfMonth(now)
	return b
}

// Load reads the persisted counters for the current day and month. Store
// failures are logged and leave the in-memory counters untouched.
func (b *BudgetTracker) Load(ctx context.Context) {
	if b.store == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	if v, err := b.store.Get(ctx, b.dailyKey(now)); err == nil {
		b.daily.used = v
	} else {
		b.logger.Warn("Failed to load daily budget", zap.String("provider", b.provider), zap.Error(err))
	}
	if v, err := b.store.Get(ctx, b.monthlyKey(now)); err == nil {
		b.monthly.used = v
	} else {
		b.logger.Warn("Failed to load monthly budget", zap.String("provider", b.provider), zap.Error(err))
	}

	b.logger.Info("Budget loaded",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.daily.used),
		zap.Int64("monthly_used", b.monthly.used),
	)
}

func (b *BudgetTracker) dailyKey(t time.Time) string {
	return fmt.Sprintf("%sbudget:%s:daily:%s", domain.KeyPrefix, b.provider, t.Format("2006-01-02"))
}

func (b *BudgetTracker) monthlyKey(t time.Time) string {
	return fmt.Sprintf("%sbudget:%s:monthly:%s", domain.KeyPrefix, b.provider, t.Format("2006-01"))
}

// Check reports whether a new request fits the budget.
func (b *BudgetTracker) Check(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.roll()
	if !b.daily.exceeded() && !b.monthly.exceeded() {
		return nil
	}
	if b.action == BudgetActionReject {
		return fmt.Errorf("%s budget: %w", b.provider, domain.ErrEmbeddingQuotaExceeded)
	}

	b.logger.Warn("Token budget exceeded",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.daily.used),
		zap.Int64("daily_limit", b.daily.limit),
		zap.Int64("monthly_used", b.monthly.used),
		zap.Int64("monthly_limit", b.monthly.limit),
	)
	return nil
}

// Record adds consumed tokens and writes them behind to the store.
func (b *BudgetTracker) Record(tokens int64) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	b.roll()
	b.daily.used += tokens
	b.monthly.used += tokens
	now := b.now().UTC()
	dailyKey, monthlyKey := b.dailyKey(now), b.monthlyKey(now)
	b.mu.Unlock()

	if b.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.persistTTL)
	defer cancel()

	if err := b.store.IncrBy(ctx, dailyKey, tokens); err != nil {
		b.logger.Warn("Failed to persist daily budget", zap.String("key", dailyKey), zap.Error(err))
	}
	if err := b.store.IncrBy(ctx, monthlyKey, tokens); err != nil {
		b.logger.Warn("Failed to persist monthly budget", zap.String("key", monthlyKey), zap.Error(err))
	}
}

// RemainingDaily returns tokens left today, -1 when unlimited.
func (b *BudgetTracker) RemainingDaily() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()
	return b.daily.remaining()
}

// RemainingMonthly returns tokens left this month, -1 when unlimited.
func (b *BudgetTracker) RemainingMonthly() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()
	return b.monthly.remaining()
}

// Usage returns the current counters and limits.
func (b *BudgetTracker) Usage() BudgetUsage {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()
	return BudgetUsage{
		DailyUsed:    b.daily.used,
		DailyLimit:   b.daily.limit,
		MonthlyUsed:  b.monthly.used,
		MonthlyLimit: b.monthly.limit,
	}
}

// roll zeroes a window once the UTC day or month changes. Caller holds mu.
func (b *BudgetTracker) roll() {
	now := b.now().UTC()
	if d := startOfDay(now); d.After(b.daily.start) {
		b.daily.used = 0
		b.daily.start = d
	}
	if m := startOfMonth(now); m.After(b.monthly.start) {
		b.monthly.used = 0
		b.monthly.start = m
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
