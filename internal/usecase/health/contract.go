package health

import "context"

// Pinger is implemented by the relational database and by the index store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderChecker is implemented by the embedding chain. Providers without a
// cheap probe report healthy.
type ProviderChecker interface {
	HealthCheck(ctx context.Context) error
}
