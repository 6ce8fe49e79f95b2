package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEncoding signals that text could not be turned into an embedding
	// (empty input or an unavailable/misconfigured embedding backend).
	ErrEncoding = errors.New("encoding error")
	// ErrCorruptEmbedding signals a stored blob that violates the fixed length/width invariant.
	ErrCorruptEmbedding = errors.New("corrupt embedding")
	// ErrInsufficientData signals fewer than two vectors handed to the reducer.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrIndexMirror signals a failed write to the external ANN index.
	ErrIndexMirror = errors.New("index mirror error")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")

	// ErrPostNotFound signals a missing post.
	ErrPostNotFound = errors.New("post not found")
	// ErrUserNotFound signals a missing user.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken signals a duplicate username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidInput signals a request that failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingQuotaExceeded signals an exhausted embedding quota at the provider.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// CorruptEmbeddingError reports which post carried an unreadable blob.
type CorruptEmbeddingError struct {
	PostID  int64
	GotLen  int
	WantLen int
}

func (e *CorruptEmbeddingError) Error() string {
	return fmt.Sprintf("%s: post %d has %d bytes, want %d",
		ErrCorruptEmbedding.Error(), e.PostID, e.GotLen, e.WantLen)
}

func (e *CorruptEmbeddingError) Unwrap() error { return ErrCorruptEmbedding }
