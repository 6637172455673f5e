package client

import (
	"errors"
	"fmt"

	"github.com/oriys/asyncsql/internal/pool"
)

// Kind classifies a failed request.
type Kind string

const (
	// KindPool: no connection could be obtained because the client or pool
	// is closed, the wait timed out or was cancelled, the queue was full, or
	// the open failed.
	KindPool Kind = "pool"
	// KindBinding: a parameter could not be bound. The connection stays healthy.
	KindBinding Kind = "binding"
	// KindDriver: the driver rejected or failed the statement.
	KindDriver Kind = "driver"
	// KindMaterialization: the result could not be read into memory.
	KindMaterialization Kind = "materialization"
	// KindClosed: the statement was issued on a Conn after Conn.Close.
	KindClosed Kind = "closed"
)

var (
	ErrPoolClosed     = pool.ErrPoolClosed
	ErrAcquireTimeout = pool.ErrAcquireTimeout
	ErrQueueFull      = pool.ErrQueueFull
	// ErrConnClosed is returned for statements issued on a closed Conn.
	ErrConnClosed = errors.New("connection closed")
)

// Error is the error delivered to every failed callback.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" when err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
