package usage

import "github.com/kailas-cloud/postmap/internal/usecase/embedding"

// BudgetReader provides read-only access to token budget counters.
type BudgetReader interface {
	Usage() embedding.BudgetUsage
}
