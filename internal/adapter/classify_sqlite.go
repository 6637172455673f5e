package adapter

import (
	"errors"

	"modernc.org/sqlite" // registers the "sqlite" driver
	sqlite3lib "modernc.org/sqlite/lib"
)

func init() {
	registerClassifier(func(err error) (bool, bool) {
		var sqErr *sqlite.Error
		if !errors.As(err, &sqErr) {
			return false, false
		}
		return sqliteFatal(sqErr.Code() & 0xff), true
	})
}

// sqliteFatal reports whether a primary result code means the database
// handle is unusable.
func sqliteFatal(primary int) bool {
	switch primary {
	case sqlite3lib.SQLITE_IOERR, sqlite3lib.SQLITE_CORRUPT, sqlite3lib.SQLITE_NOTADB, sqlite3lib.SQLITE_CANTOPEN:
		return true
	}
	return false
}
