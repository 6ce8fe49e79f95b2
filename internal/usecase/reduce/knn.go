package reduce

import (
	"context"
	"math"
	"sort"
)

// neighbor is one entry of a kNN list.
type neighbor struct {
	index int
	dist  float64
}

// unitRows converts vectors to float64 and scales them to unit length so that
// cosine distance is 1 - dot. Zero vectors stay zero and end up at distance 1
// from everything.
func unitRows(vectors [][]float32) [][]float64 {
	rows := make([][]float64, len(vectors))
	for i, v := range vectors {
		row := make([]float64, len(v))
		var sum float64
		for j, f := range v {
			row[j] = float64(f)
			sum += row[j] * row[j]
		}
		if sum > 0 {
			inv := 1 / math.Sqrt(sum)
			for j := range row {
				row[j] *= inv
			}
		}
		rows[i] = row
	}
	return rows
}

func cosineDistance(a, b []float64) float64 {
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return max(0, 1-dot)
}

// exactKNN returns the k nearest neighbours of every row under cosine
// distance, excluding the row itself. Ties go to the lower index.
func exactKNN(ctx context.Context, rows [][]float64, k int) ([][]neighbor, error) {
	n := len(rows)
	out := make([][]neighbor, n)
	cand := make([]neighbor, 0, n-1)
	for i := range rows {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cand = cand[:0]
		for j := range rows {
			if j == i {
				continue
			}
			cand = append(cand, neighbor{index: j, dist: cosineDistance(rows[i], rows[j])})
		}
		sort.Slice(cand, func(a, b int) bool {
			if cand[a].dist != cand[b].dist {
				return cand[a].dist < cand[b].dist
			}
			return cand[a].index < cand[b].index
		})
		out[i] = append([]neighbor(nil), cand[:k]...)
	}
	return out, nil
}
