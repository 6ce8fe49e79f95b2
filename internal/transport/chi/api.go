package chi

import "time"

// ErrorCode is the machine-readable error kind in ErrorResponse.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest             ErrorCode = "bad_request"
	CodeValidationFailed       ErrorCode = "validation_failed"
	CodeUnauthorized           ErrorCode = "unauthorized"
	CodePostNotFound           ErrorCode = "post_not_found"
	CodeUserNotFound           ErrorCode = "user_not_found"
	CodeUsernameTaken          ErrorCode = "username_taken"
	CodeRateLimited            ErrorCode = "rate_limited"
	CodeEmbeddingQuotaExceeded ErrorCode = "embedding_quota_exceeded"
	CodeEmbeddingProviderError ErrorCode = "embedding_provider_error"
	CodeEncodingError          ErrorCode = "encoding_error"
	CodeCorruptEmbedding       ErrorCode = "corrupt_embedding"
	CodeVectorDimMismatch      ErrorCode = "vector_dim_mismatch"
	CodeIndexUnavailable       ErrorCode = "index_unavailable"
	CodeInternalError          ErrorCode = "internal_error"
)

// ErrorResponse is the body of every 4xx/5xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// CreateUserRequest is the body of POST /users.
type CreateUserRequest struct {
	Username string `json:"username"`
}

// UserResponse is a registered user.
type UserResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// CreatePostRequest is the body of POST /posts.
type CreatePostRequest struct {
	UserID       int64  `json:"user_id"`
	ActivityType string `json:"activity_type"`
	Status       string `json:"status"`
	Comment      string `json:"comment"`
	Title        string `json:"title"`
	Description  string `json:"description"`
}

// PostResponse is a stored post. X and Y are the cached map position, absent
// until a map has been built.
type PostResponse struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	ActivityType string    `json:"activity_type,omitempty"`
	Status       string    `json:"status"`
	Comment      string    `json:"comment,omitempty"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	X            *float64  `json:"x,omitempty"`
	Y            *float64  `json:"y,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PostListResponse is one page of posts, newest first.
type PostListResponse struct {
	Items []PostResponse `json:"items"`
}

// SearchHit is one ranked search result.
type SearchHit struct {
	Post  PostResponse `json:"post"`
	Score float64      `json:"score"`
}

// SearchResponse lists hits best first.
type SearchResponse struct {
	Hits []SearchHit `json:"hits"`
}

// MapEntry is one marker on the post map.
type MapEntry struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Status      string  `json:"status"`
}

// MapSkipped counts posts left off the map.
type MapSkipped struct {
	Corrupt     int `json:"corrupt"`
	NonFinite   int `json:"non_finite"`
	WriteFailed int `json:"write_failed"`
}

// MapResponse is a computed or cached layout.
type MapResponse struct {
	LayoutID string     `json:"layout_id,omitempty"`
	Strategy string     `json:"strategy"`
	Skipped  MapSkipped `json:"skipped"`
	Entries  []MapEntry `json:"entries"`
}

// BackfillItemError describes one post the backfill could not embed.
type BackfillItemError struct {
	PostID  int64     `json:"post_id"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// BackfillResponse reports a backfill run.
type BackfillResponse struct {
	Embedded     int                 `json:"embedded"`
	Unchanged    int                 `json:"unchanged"`
	Failed       int                 `json:"failed"`
	Mirrored     int                 `json:"mirrored"`
	MirrorFailed int                 `json:"mirror_failed"`
	Corpus       CorpusCounts        `json:"corpus"`
	Errors       []BackfillItemError `json:"errors,omitempty"`
}

// CorpusCounts compares stored embeddings with index entries. Indexed is
// absent when no index is attached or it could not be counted.
type CorpusCounts struct {
	Posts    int64 `json:"posts"`
	Embedded int64 `json:"embedded"`
	Indexed  *int  `json:"indexed,omitempty"`
}

// UsageResponse reports embedding token usage for a budget window.
type UsageResponse struct {
	Period          string    `json:"period"`
	Provider        string    `json:"provider"`
	PeriodStartAt   time.Time `json:"period_start_at"`
	PeriodEndAt     time.Time `json:"period_end_at"`
	TokensUsed      int64     `json:"tokens_used"`
	TokensLimit     int64     `json:"tokens_limit"`
	TokensRemaining int64     `json:"tokens_remaining"`
	IsExhausted     bool      `json:"is_exhausted"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	LatencyMS map[string]int64  `json:"latency_ms,omitempty"`
}
