package adapter

import (
	"errors"

	"github.com/lib/pq" // registers the "postgres" driver
)

func init() {
	registerClassifier(func(err error) (bool, bool) {
		var pqErr *pq.Error
		if !errors.As(err, &pqErr) {
			return false, false
		}
		return pqErr.Code.Class() == "08" || isPgShutdown(string(pqErr.Code)), true
	})
}
