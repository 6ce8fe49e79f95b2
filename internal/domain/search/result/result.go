package result

import "github.com/kailas-cloud/postmap/internal/domain/post"

// Hit is a single ranked search match.
type Hit struct {
	post  post.Post
	score float64
}

// New creates a search hit.
func New(p post.Post, score float64) Hit {
	return Hit{post: p, score: score}
}

// Post returns the matched post.
func (h *Hit) Post() post.Post { return h.post }

// PostID is a shortcut for Post().ID().
func (h *Hit) PostID() int64 { return h.post.ID() }

// Score returns the cosine similarity of the match.
func (h *Hit) Score() float64 { return h.score }

// Match is an unhydrated index hit: the parsed "{user_id}#{post_id}" key and
// its similarity.
type Match struct {
	UserID int64
	PostID int64
	Score  float64
}
