// Package usage describes embedding token consumption against the budget.
package usage

import (
	"fmt"
	"time"

	"github.com/kailas-cloud/postmap/internal/domain/usage/budget"
)

// Period is the budget window a report covers.
type Period string

// Report periods.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ParsePeriod validates a period name. Empty defaults to day.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodDay:
		return PeriodDay, nil
	case PeriodMonth:
		return PeriodMonth, nil
	default:
		return "", fmt.Errorf("period must be day or month, got %q", s)
	}
}

// Report is the token usage of one embedding provider in one window.
type Report struct {
	period      Period
	provider    string
	periodStart time.Time
	periodEnd   time.Time
	tokensUsed  int64
	budget      budget.Budget
}

// NewReport creates a usage report.
func NewReport(period Period, provider string, start, end time.Time, used int64, b budget.Budget) Report {
	return Report{
		period:      period,
		provider:    provider,
		periodStart: start,
		periodEnd:   end,
		tokensUsed:  used,
		budget:      b,
	}
}

// Period returns the window kind.
func (r *Report) Period() Period { return r.period }

// Provider returns the embedding provider name.
func (r *Report) Provider() string { return r.provider }

// PeriodStart returns the window start (UTC).
func (r *Report) PeriodStart() time.Time { return r.periodStart }

// PeriodEnd returns the window end (UTC), which is also when the budget resets.
func (r *Report) PeriodEnd() time.Time { return r.periodEnd }

// TokensUsed returns the tokens consumed in the window.
func (r *Report) TokensUsed() int64 { return r.tokensUsed }

// Budget returns the budget state for the window.
func (r *Report) Budget() budget.Budget { return r.budget }
