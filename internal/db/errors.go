package db

import "errors"

var (
	// ErrKeyNotFound is returned by Get for a missing key.
	ErrKeyNotFound = errors.New("db: key not found")
	// ErrIndexExists is returned by CreateIndex when the index is already there.
	ErrIndexExists = errors.New("db: index already exists")
)

// Command names used as Error.Op.
const (
	OpCreateIndex = "FT.CREATE"
	OpIndexInfo   = "FT.INFO"
	OpSearch      = "FT.SEARCH"
	OpHSet        = "HSET"
	OpDel         = "DEL"
	OpGet         = "GET"
	OpSet         = "SET"
	OpIncrBy      = "INCRBY"
)

// Error records the failed command and, when there is one, the key it touched.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Key + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
