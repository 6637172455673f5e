package client

import "context"

// Await runs a callback-style operation and blocks until its callback
// fires or ctx is done. If ctx ends first the late result is discarded, and
// a late *Conn is closed so its connection goes back to the pool.
func Await[T any](ctx context.Context, op func(cb func(T, error))) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	op(func(v T, err error) { ch <- outcome{v, err} })

	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		go func() {
			o := <-ch
			if c, ok := any(o.v).(interface{ Close(func(error)) }); ok && o.err == nil {
				c.Close(func(error) {})
			}
		}()
		var zero T
		return zero, ctx.Err()
	}
}

// AwaitErr is Await for operations whose callback only reports an error.
func AwaitErr(ctx context.Context, op func(cb func(error))) error {
	ch := make(chan error, 1)
	op(func(err error) { ch <- err })

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
