// Package budget persists embedding token counters in Redis/Valkey so a
// restart does not reset the provider quota.
package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/postmap/internal/db"
)

type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrByWithTTL(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error)
}

// Store implements embedding.BudgetStore. Keys carry their period as a
// segment, e.g. postmap:budget:openai:daily:2026-10-18.
type Store struct {
	store    store
	dailyTTL time.Duration
	monthTTL time.Duration
}

// New creates a budget store. A daily counter must outlive the UTC
// rollover, so dailyTTL should be at least a day plus clock skew.
func New(s store, dailyTTL, monthTTL time.Duration) *Store {
	return &Store{store: s, dailyTTL: dailyTTL, monthTTL: monthTTL}
}

// IncrBy adds val tokens. The counter's TTL starts at its first write.
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	ttl, err := s.ttlFor(key)
	if err != nil {
		return err
	}
	if _, err := s.store.IncrByWithTTL(ctx, key, val, ttl); err != nil {
		return fmt.Errorf("budget incr %s: %w", key, err)
	}
	return nil
}

// Get returns the counter, 0 when it does not exist yet.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	data, err := s.store.Get(ctx, key)
	if errors.Is(err, db.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("budget get %s: %w", key, err)
	}

	val, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget get %s: corrupt counter %q: %w", key, data, err)
	}
	return val, nil
}

func (s *Store) ttlFor(key string) (time.Duration, error) {
	for seg := range strings.SplitSeq(key, ":") {
		switch seg {
		case "daily":
			return s.dailyTTL, nil
		case "monthly":
			return s.monthTTL, nil
		}
	}
	return 0, fmt.Errorf("budget key %q has no period segment", key)
}
