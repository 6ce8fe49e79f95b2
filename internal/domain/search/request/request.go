// Package request validates similarity search parameters.
package request

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/postmap/internal/domain/search/filter"
	"github.com/kailas-cloud/postmap/internal/domain/search/mode"
)

// MaxQueryLength is the maximum allowed search query length in characters.
const MaxQueryLength = 1000

// Limits are the deployment's top_k bounds and default similarity floor.
type Limits struct {
	DefaultTopK   int
	MaxTopK       int
	MinSimilarity float64
}

// DefaultLimits returns top_k 10 of at most 100 and no similarity floor.
func DefaultLimits() Limits {
	return Limits{DefaultTopK: 10, MaxTopK: 100, MinSimilarity: 0}
}

// Request is a validated search: either free text or "more like this post".
type Request struct {
	query         string
	postID        int64
	backend       mode.Backend
	filter        filter.Filter
	topK          int
	minSimilarity float64
}

// Options are the optional knobs shared by both request kinds.
type Options struct {
	Backend mode.Backend
	Filter  filter.Filter
	// TopK of 0 uses Limits.DefaultTopK.
	TopK int
	// MinSimilarity of nil uses Limits.MinSimilarity.
	MinSimilarity *float64
}

// New validates a free-text search.
func New(query string, opts Options, lim Limits) (Request, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Request{}, fmt.Errorf("query is required")
	}
	if n := utf8.RuneCountInString(query); n > MaxQueryLength {
		return Request{}, fmt.Errorf("query too long (%d > %d characters)", n, MaxQueryLength)
	}
	r, err := build(opts, lim)
	if err != nil {
		return Request{}, err
	}
	r.query = query
	return r, nil
}

// NewSimilar validates a search for posts similar to postID.
func NewSimilar(postID int64, opts Options, lim Limits) (Request, error) {
	if postID <= 0 {
		return Request{}, fmt.Errorf("post id must be positive, got %d", postID)
	}
	r, err := build(opts, lim)
	if err != nil {
		return Request{}, err
	}
	r.postID = postID
	return r, nil
}

func build(opts Options, lim Limits) (Request, error) {
	if opts.Backend != "" && !opts.Backend.IsValid() {
		return Request{}, fmt.Errorf("invalid search backend %q", opts.Backend)
	}
	topK := opts.TopK
	if topK == 0 {
		topK = lim.DefaultTopK
	}
	if topK < 1 || topK > lim.MaxTopK {
		return Request{}, fmt.Errorf("top_k must be between 1 and %d, got %d", lim.MaxTopK, topK)
	}
	minSim := lim.MinSimilarity
	if opts.MinSimilarity != nil {
		minSim = *opts.MinSimilarity
	}
	if minSim < -1 || minSim > 1 {
		return Request{}, fmt.Errorf("min_similarity must be between -1 and 1, got %v", minSim)
	}
	return Request{
		backend:       opts.Backend,
		filter:        opts.Filter,
		topK:          topK,
		minSimilarity: minSim,
	}, nil
}

// Query returns the search text, empty for similar-post requests.
func (r *Request) Query() string { return r.query }

// PostID returns the reference post for similar-post requests, 0 otherwise.
func (r *Request) PostID() int64 { return r.postID }

// Backend returns the requested backend, empty for the service default.
func (r *Request) Backend() mode.Backend { return r.backend }

// Filter returns the author/status restriction.
func (r *Request) Filter() filter.Filter { return r.filter }

// TopK returns the maximum number of hits.
func (r *Request) TopK() int { return r.topK }

// MinSimilarity returns the lowest cosine similarity kept.
func (r *Request) MinSimilarity() float64 { return r.minSimilarity }
