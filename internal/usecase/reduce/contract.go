// Package reduce projects post embeddings onto a 2D map.
//
// Every call recomputes the layout from scratch: the kNN graph and the MDS
// distance matrix both cost O(N²·D) time, MDS also O(N²) memory, and adding
// one post can move every other point. Fine for a few thousand posts; beyond
// that the map needs an incremental projection.
package reduce

import (
	"context"

	"github.com/kailas-cloud/postmap/internal/domain/mapview"
)

// Strategy computes one 2D point per input vector, in input order. All
// vectors share one dimensionality and there are at least two of them.
type Strategy interface {
	Name() string
	Project(ctx context.Context, vectors [][]float32) ([]mapview.Point, error)
}
