package post

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/vector"
)

// Field limits inherited from the relational schema.
const (
	MaxTitleLen        = 100
	MaxDescriptionLen  = 200
	MaxCommentLen      = 50
	MaxActivityTypeLen = 50
)

// Status is where the author stands with the activity.
type Status string

// Post statuses.
const (
	StatusDid    Status = "did"
	StatusDoing  Status = "doing"
	StatusWantTo Status = "want-to"
)

// ParseStatus validates a status string. Empty defaults to "did".
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "":
		return StatusDid, nil
	case StatusDid, StatusDoing, StatusWantTo:
		return Status(s), nil
	default:
		return "", fmt.Errorf("status must be one of did, doing, want-to, got %q", s)
	}
}

// Post is the post aggregate. The embedding is an opaque blob here; decoding
// against the configured dimensionality happens through Vector.
type Post struct {
	id           int64
	authorID     int64
	activityType string
	status       Status
	comment      string
	title        string
	description  string
	embedding    []byte
	x, y         *float64
	createdAt    time.Time
}

// Draft is the user-supplied part of a new post.
type Draft struct {
	AuthorID     int64
	ActivityType string
	Status       string
	Comment      string
	Title        string
	Description  string
}

// New validates a draft and creates a Post without id or embedding.
func New(d Draft) (Post, error) {
	if d.AuthorID <= 0 {
		return Post{}, fmt.Errorf("author_id is required")
	}
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return Post{}, fmt.Errorf("title is required")
	}
	description := strings.TrimSpace(d.Description)
	if description == "" {
		return Post{}, fmt.Errorf("description is required")
	}
	if err := checkLen("title", title, MaxTitleLen); err != nil {
		return Post{}, err
	}
	if err := checkLen("description", description, MaxDescriptionLen); err != nil {
		return Post{}, err
	}
	if err := checkLen("comment", d.Comment, MaxCommentLen); err != nil {
		return Post{}, err
	}
	if err := checkLen("activity_type", d.ActivityType, MaxActivityTypeLen); err != nil {
		return Post{}, err
	}
	status, err := ParseStatus(d.Status)
	if err != nil {
		return Post{}, err
	}

	return Post{
		authorID:     d.AuthorID,
		activityType: d.ActivityType,
		status:       status,
		comment:      d.Comment,
		title:        title,
		description:  description,
	}, nil
}

func checkLen(name, v string, limit int) error {
	if n := utf8.RuneCountInString(v); n > limit {
		return fmt.Errorf("%s too long (%d > %d characters)", name, n, limit)
	}
	return nil
}

// Snapshot is the full stored state of a post, used for storage hydration.
type Snapshot struct {
	ID           int64
	AuthorID     int64
	ActivityType string
	Status       Status
	Comment      string
	Title        string
	Description  string
	Embedding    []byte
	X, Y         *float64
	CreatedAt    time.Time
}

// Reconstruct creates a Post from storage without validation.
func Reconstruct(s Snapshot) Post {
	return Post{
		id:           s.ID,
		authorID:     s.AuthorID,
		activityType: s.ActivityType,
		status:       s.Status,
		comment:      s.Comment,
		title:        s.Title,
		description:  s.Description,
		embedding:    s.Embedding,
		x:            s.X,
		y:            s.Y,
		createdAt:    s.CreatedAt,
	}
}

// ID returns the post identifier (0 before persistence).
func (p *Post) ID() int64 { return p.id }

// AuthorID returns the owning user id.
func (p *Post) AuthorID() int64 { return p.authorID }

// ActivityType returns the free-form activity category.
func (p *Post) ActivityType() string { return p.activityType }

// Status returns the post status.
func (p *Post) Status() Status { return p.status }

// Comment returns the short author comment.
func (p *Post) Comment() string { return p.comment }

// Title returns the post title.
func (p *Post) Title() string { return p.title }

// Description returns the post description.
func (p *Post) Description() string { return p.description }

// Embedding returns the raw embedding blob, nil when absent.
func (p *Post) Embedding() []byte { return p.embedding }

// HasEmbedding reports whether a blob is attached.
func (p *Post) HasEmbedding() bool { return len(p.embedding) > 0 }

// Vector decodes the embedding blob. A blob of the wrong length, or a missing
// one, is a *domain.CorruptEmbeddingError.
func (p *Post) Vector(dim int) ([]float32, error) {
	v, err := vector.Decode(p.embedding, dim)
	if err != nil {
		return nil, &domain.CorruptEmbeddingError{
			PostID:  p.id,
			GotLen:  len(p.embedding),
			WantLen: dim * vector.FloatBytes,
		}
	}
	return v, nil
}

// Coordinates returns the cached map position, ok=false when absent or non-finite.
func (p *Post) Coordinates() (x, y float64, ok bool) {
	if p.x == nil || p.y == nil {
		return 0, 0, false
	}
	if math.IsNaN(*p.x) || math.IsInf(*p.x, 0) || math.IsNaN(*p.y) || math.IsInf(*p.y, 0) {
		return 0, 0, false
	}
	return *p.x, *p.y, true
}

// CreatedAt returns the creation time.
func (p *Post) CreatedAt() time.Time { return p.createdAt }

// SetID assigns the identity after the row is inserted.
func (p *Post) SetID(id int64) { p.id = id }

// SetEmbedding attaches an encoded embedding blob.
func (p *Post) SetEmbedding(blob []byte) { p.embedding = blob }

// SetCreatedAt records the insertion time.
func (p *Post) SetCreatedAt(t time.Time) { p.createdAt = t }

// Snapshot exports the full state.
func (p *Post) Snapshot() Snapshot {
	return Snapshot{
		ID:           p.id,
		AuthorID:     p.authorID,
		ActivityType: p.activityType,
		Status:       p.status,
		Comment:      p.comment,
		Title:        p.title,
		Description:  p.description,
		Embedding:    p.embedding,
		X:            p.x,
		Y:            p.y,
		CreatedAt:    p.createdAt,
	}
}
