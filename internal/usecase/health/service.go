// Package health probes the database, the optional vector index and the
// embedding provider.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status is the aggregated outcome.
type Status string

const (
	Healthy  Status = "ok"
	Degraded Status = "degraded"
)

// CheckResult is one component's outcome.
type CheckResult string

const (
	CheckOK    CheckResult = "ok"
	CheckError CheckResult = "error"
)

// Component names reported in Report.Checks.
const (
	ComponentDatabase  = "database"
	ComponentIndex     = "index"
	ComponentEmbedding = "embedding"
)

// DefaultTimeout bounds each component probe.
const DefaultTimeout = 2 * time.Second

// Report is the outcome of one Check. Latency holds how long each probe
// took, including failed ones.
type Report struct {
	Status  Status
	Checks  map[string]CheckResult
	Latency map[string]time.Duration
}

type probe struct {
	name string
	fn   func(context.Context) error
}

// Service runs the probes.
type Service struct {
	probes  []probe
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Service. index and provider may be nil; absent components
// are left out of the report rather than reported healthy.
func New(db, index Pinger, provider ProviderChecker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	probes := []probe{{name: ComponentDatabase, fn: db.Ping}}
	if index != nil {
		probes = append(probes, probe{name: ComponentIndex, fn: index.Ping})
	}
	if provider != nil {
		probes = append(probes, probe{name: ComponentEmbedding, fn: provider.HealthCheck})
	}
	return &Service{probes: probes, timeout: DefaultTimeout, logger: logger}
}

// WithTimeout overrides the per-component timeout.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check runs every probe concurrently. Any failure degrades the report.
func (s *Service) Check(ctx context.Context) Report {
	report := Report{
		Status:  Healthy,
		Checks:  make(map[string]CheckResult, len(s.probes)),
		Latency: make(map[string]time.Duration, len(s.probes)),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, p := range s.probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			start := time.Now()
			err := p.fn(pctx)
			took := time.Since(start)

			res := CheckOK
			if err != nil {
				s.logger.Warn("Health check failed",
					zap.String("component", p.name),
					zap.Duration("took", took),
					zap.Error(err),
				)
				res = CheckError
			}

			mu.Lock()
			defer mu.Unlock()
			report.Checks[p.name] = res
			report.Latency[p.name] = took
			if res == CheckError {
				report.Status = Degraded
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}
