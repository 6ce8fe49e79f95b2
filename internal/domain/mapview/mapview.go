// Package mapview joins 2D layout coordinates back onto posts.
package mapview

import (
	"math"

	"github.com/kailas-cloud/postmap/internal/domain/post"
)

// Point is a 2D map position.
type Point struct {
	X, Y float64
}

// Finite reports whether both coordinates are finite numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Entry is one renderable map marker.
type Entry struct {
	ID          int64
	Title       string
	Description string
	X           float64
	Y           float64
	Status      post.Status
}

// Assemble pairs posts[i] with points[i]. Posts without a point or with a
// non-finite point are left out; the result keeps post order.
func Assemble(posts []post.Post, points []Point) []Entry {
	entries := make([]Entry, 0, len(posts))
	for i := range posts {
		if i >= len(points) || !points[i].Finite() {
			continue
		}
		p := &posts[i]
		entries = append(entries, Entry{
			ID:          p.ID(),
			Title:       p.Title(),
			Description: p.Description(),
			X:           points[i].X,
			Y:           points[i].Y,
			Status:      p.Status(),
		})
	}
	return entries
}

// FromCache builds entries from the coordinates already stored on posts.
// Posts with absent or non-finite cached coordinates are left out.
func FromCache(posts []post.Post) []Entry {
	points := make([]Point, len(posts))
	for i := range posts {
		x, y, ok := posts[i].Coordinates()
		if !ok {
			points[i] = Point{X: math.NaN(), Y: math.NaN()}
			continue
		}
		points[i] = Point{X: x, Y: y}
	}
	return Assemble(posts, points)
}
