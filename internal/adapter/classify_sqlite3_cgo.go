//go:build cgo

package adapter

import (
	"errors"

	"github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

func init() {
	registerClassifier(func(err error) (bool, bool) {
		var sqErr sqlite3.Error
		if !errors.As(err, &sqErr) {
			return false, false
		}
		return sqliteFatal(int(sqErr.Code)), true
	})
}
