// Package filter restricts search and map results by author and status.
package filter

import (
	"fmt"

	"github.com/kailas-cloud/postmap/internal/domain/post"
)

// Filter is a conjunction of optional conditions. The zero value matches everything.
type Filter struct {
	authorID int64
	status   post.Status
}

// New validates the conditions. authorID 0 and an empty status are unset.
func New(authorID int64, status string) (Filter, error) {
	if authorID < 0 {
		return Filter{}, fmt.Errorf("author_id must be positive, got %d", authorID)
	}
	f := Filter{authorID: authorID}
	if status != "" {
		s, err := post.ParseStatus(status)
		if err != nil {
			return Filter{}, err
		}
		f.status = s
	}
	return f, nil
}

// AuthorID returns the required author, 0 when unset.
func (f Filter) AuthorID() int64 { return f.authorID }

// Status returns the required status, empty when unset.
func (f Filter) Status() post.Status { return f.status }

// IsEmpty reports whether the filter has no conditions.
func (f Filter) IsEmpty() bool { return f.authorID == 0 && f.status == "" }

// Matches reports whether p satisfies every set condition.
func (f Filter) Matches(p *post.Post) bool {
	if f.authorID != 0 && p.AuthorID() != f.authorID {
		return false
	}
	if f.status != "" && p.Status() != f.status {
		return false
	}
	return true
}
