// Package mode names the similarity search backends.
package mode

import "fmt"

// Backend is where similarity is computed.
type Backend string

// Search backends.
const (
	// Exact scores every stored embedding in process.
	Exact Backend = "exact"
	// Index asks the external ANN index and hydrates the hits.
	Index Backend = "index"
)

// IsValid checks if the backend is one of the supported values.
func (b Backend) IsValid() bool {
	return b == Exact || b == Index
}

// Parse validates a backend name. Empty stays empty so callers can apply
// their configured default.
func Parse(s string) (Backend, error) {
	b := Backend(s)
	if b == "" || b.IsValid() {
		return b, nil
	}
	return "", fmt.Errorf("invalid search backend %q (want exact or index)", s)
}
