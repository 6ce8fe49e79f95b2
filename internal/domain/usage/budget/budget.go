// Package budget is a snapshot of an embedding token budget window.
package budget

// Budget is the token cap of one window and what is left of it.
// A limit of 0 means unlimited; remaining is then reported as -1.
type Budget struct {
	tokensLimit     int64
	tokensRemaining int64
}

// New creates a Budget snapshot. Remaining below zero is clamped unless the
// budget is unlimited.
func New(limit, remaining int64) Budget {
	if limit <= 0 {
		return Budget{tokensRemaining: -1}
	}
	return Budget{tokensLimit: limit, tokensRemaining: max(remaining, 0)}
}

// TokensLimit returns the token cap, 0 when unlimited.
func (b Budget) TokensLimit() int64 { return b.tokensLimit }

// TokensRemaining returns tokens left, -1 when unlimited.
func (b Budget) TokensRemaining() int64 { return b.tokensRemaining }

// Unlimited reports whether no cap is configured.
func (b Budget) Unlimited() bool { return b.tokensLimit == 0 }

// IsExhausted reports whether a capped budget is spent.
func (b Budget) IsExhausted() bool { return !b.Unlimited() && b.tokensRemaining == 0 }
