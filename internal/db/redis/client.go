// Package redis implements db.Store on rueidis for Redis 8+ and Valkey with
// the search module. Both speak the same FT.* dialect for HASH + VECTOR.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/postmap/internal/db"
)

var _ db.Store = (*Store)(nil)

const (
	readyBackoffMin = 50 * time.Millisecond
	readyBackoffMax = 2 * time.Second
)

// Config holds connection parameters.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	// WriteTimeout bounds a single command on the wire. Zero keeps the
	// rueidis default.
	WriteTimeout time.Duration
}

// Store talks to one Redis/Valkey deployment.
type Store struct {
	client rueidis.Client
}

// NewStore dials the store. Client-side caching is off: index hashes are
// written from several processes.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      cfg.Addrs,
		Username:         cfg.Username,
		Password:         cfg.Password,
		SelectDB:         cfg.DB,
		ConnWriteTimeout: cfg.WriteTimeout,
		DisableCache:     true,
		AlwaysRESP2:      true, // FT.SEARCH reply parsing expects RESP2 arrays
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", strings.Join(cfg.Addrs, ","), err)
	}
	return &Store{client: client}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.b().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts the client down.
func (s *Store) Close() {
	s.client.Close()
}

// WaitForReady pings with exponential backoff until the store answers or
// timeout expires. The last ping error is reported on timeout.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	delay := readyBackoffMin
	var lastErr error
	for {
		if lastErr = s.Ping(ctx); lastErr == nil {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("index store not ready after %s: %w", timeout, errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
		delay = min(delay*2, readyBackoffMax)
	}
}

func (s *Store) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return s.client.Do(ctx, cmd)
}

func (s *Store) b() rueidis.Builder {
	return s.client.B()
}

// isRedisErr reports whether err is a server reply containing substr.
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(re.Error()), strings.ToLower(substr))
}
