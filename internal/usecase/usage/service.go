package usage

import (
	"context"
	"time"

	domusage "github.com/kailas-cloud/postmap/internal/domain/usage"
	"github.com/kailas-cloud/postmap/internal/domain/usage/budget"
)

// Service handles usage reporting.
type Service struct {
	br       BudgetReader
	provider string
	now      func() time.Time
}

// New creates a Service. br can be nil (unlimited mode, nothing tracked).
func New(br BudgetReader, provider string) *Service {
	return &Service{br: br, provider: provider, now: time.Now}
}

// GetReport builds a usage report for the current UTC day or month.
func (s *Service) GetReport(_ context.Context, period domusage.Period) domusage.Report {
	now := s.now().UTC()

	var used, limit int64
	var start, end time.Time
	switch period {
	case domusage.PeriodMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
		if s.br != nil {
			bu := s.br.Usage()
			used, limit = bu.MonthlyUsed, bu.MonthlyLimit
		}
	default:
		period = domusage.PeriodDay
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 0, 1)
		if s.br != nil {
			bu := s.br.Usage()
			used, limit = bu.DailyUsed, bu.DailyLimit
		}
	}

	b := budget.New(limit, limit-used)
	return domusage.NewReport(period, s.provider, start, end, used, b)
}
