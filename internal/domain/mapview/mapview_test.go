package mapview

import (
	"math"
	"testing"

	"github.com/kailas-cloud/postmap/internal/domain/post"
)

func posts(ids ...int64) []post.Post {
	out := make([]post.Post, len(ids))
	for i, id := range ids {
		out[i] = post.Reconstruct(post.Snapshot{
			ID:     id,
			Title:  "t",
			Status: post.StatusWantTo,
		})
	}
	return out
}

func TestAssemble_KeepsOrderAndFields(t *testing.T) {
	entries := Assemble(posts(3, 1, 2), []Point{{1, 1}, {2, 2}, {3, 3}})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []int64{3, 1, 2} {
		if entries[i].ID != want {
			t.Errorf("entry %d: id %d, want %d", i, entries[i].ID, want)
		}
		if entries[i].X != float64(i+1) {
			t.Errorf("entry %d: x %v", i, entries[i].X)
		}
	}
	if entries[0].Status != post.StatusWantTo {
		t.Errorf("status not carried: %q", entries[0].Status)
	}
}

func TestAssemble_DropsNonFinite(t *testing.T) {
	points := []Point{
		{math.NaN(), 0},
		{0, math.Inf(1)},
		{math.Inf(-1), math.Inf(-1)},
		{0.5, -0.5},
	}
	entries := Assemble(posts(1, 2, 3, 4), points)
	if len(entries) != 1 || entries[0].ID != 4 {
		t.Fatalf("expected only post 4, got %+v", entries)
	}
	for _, e := range entries {
		if !(Point{e.X, e.Y}).Finite() {
			t.Fatalf("non-finite coordinate emitted: %+v", e)
		}
	}
}

func TestAssemble_MissingPoints(t *testing.T) {
	entries := Assemble(posts(1, 2, 3), []Point{{1, 1}})
	if len(entries) != 1 || entries[0].ID != 1 {
		t.Fatalf("expected only the first post, got %+v", entries)
	}
}

func TestFromCache(t *testing.T) {
	x, y := 0.25, 0.75
	ps := []post.Post{
		post.Reconstruct(post.Snapshot{ID: 1, X: &x, Y: &y}),
		post.Reconstruct(post.Snapshot{ID: 2}),
	}
	entries := FromCache(ps)
	if len(entries) != 1 || entries[0].ID != 1 || entries[0].Y != 0.75 {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
