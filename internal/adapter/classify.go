package adapter

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"
)

// classifier inspects a driver-specific error. known is false when the
// error does not belong to that driver.
type classifier func(err error) (broken, known bool)

var classifiers []classifier

func registerClassifier(c classifier) {
	classifiers = append(classifiers, c)
}

// IsBroken reports whether err means the connection that produced it must
// not be reused. SQL-level errors (constraint violations, syntax errors,
// bad parameters) leave the connection healthy.
//
// An interrupted statement (context deadline or cancellation) leaves the
// session in an unknown state and counts as broken.
func IsBroken(err error) bool {
	if err == nil {
		return false
	}
	for _, c := range classifiers {
		if broken, known := c(err); known {
			return broken
		}
	}

	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNREFUSED):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
