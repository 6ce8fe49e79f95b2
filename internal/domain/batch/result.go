package batch

// ItemStatus is the processing outcome of a single batch item.
type ItemStatus string

// Batch item status values.
const (
	StatusOK      ItemStatus = "ok"
	StatusSkipped ItemStatus = "skipped"
	StatusError   ItemStatus = "error"
)

// Result is the outcome of processing one post in a batch operation.
type Result struct {
	postID int64
	status ItemStatus
	err    error
}

// NewOK creates a successful batch result.
func NewOK(postID int64) Result { return Result{postID: postID, status: StatusOK} }

// NewSkipped marks an item that needed no work.
func NewSkipped(postID int64) Result { return Result{postID: postID, status: StatusSkipped} }

// NewError creates a failed batch result.
func NewError(postID int64, err error) Result {
	return Result{postID: postID, status: StatusError, err: err}
}

// PostID returns the item identifier.
func (r Result) PostID() int64 { return r.postID }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// Summary counts outcomes across a batch.
type Summary struct {
	OK      int
	Skipped int
	Failed  int
}

// Summarize aggregates results by status.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.status {
		case StatusOK:
			s.OK++
		case StatusSkipped:
			s.Skipped++
		case StatusError:
			s.Failed++
		}
	}
	return s
}
