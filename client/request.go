package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/asyncsql/internal/observability"
)

// State is the lifecycle position of a statement request. States only move
// forward.
type State int32

const (
	StateCreated State = iota
	StateAcquiring
	StateExecuting
	StateMaterializing
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAcquiring:
		return "acquiring"
	case StateExecuting:
		return "executing"
	case StateMaterializing:
		return "materializing"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

const (
	opUpdate = "update"
	opQuery  = "query"
)

// request is one statement travelling through the pipeline. sql and params
// are fixed at creation.
type request struct {
	id      string
	op      string
	sql     string
	params  []any
	created time.Time

	ctx  context.Context
	span trace.Span

	state atomic.Int32
	once  sync.Once

	wait     time.Duration
	execTime time.Duration
	connID   string
}

func newRequest(ctx context.Context, op, sql string, params []any) *request {
	r := &request{
		id:      uuid.New().String(),
		op:      op,
		sql:     sql,
		params:  params,
		created: time.Now(),
	}
	r.ctx, r.span = observability.StartSpan(ctx, "asyncsql."+op,
		observability.AttrDBStatement.String(sql),
		observability.AttrDBOperation.String(op),
		observability.AttrRequestID.String(r.id),
		observability.AttrParams.Int(len(params)),
	)
	return r
}

// State returns the current state.
func (r *request) State() State { return State(r.state.Load()) }

// advance moves the request forward to s. It returns false, leaving the
// state unchanged, if the request is already at or past s.
func (r *request) advance(s State) bool {
	for {
		cur := r.state.Load()
		if State(cur) >= s {
			return false
		}
		if r.state.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}

// complete marks the request completed and runs fn. Only the first call
// has any effect.
func (r *request) complete(fn func()) bool {
	ran := false
	r.once.Do(func() {
		r.advance(StateCompleted)
		ran = true
		fn()
	})
	return ran
}
