package adapter

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

func init() {
	registerClassifier(func(err error) (bool, bool) {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// Class 08 is connection exception, 57P0x is admin or crash shutdown.
			return strings.HasPrefix(pgErr.Code, "08") || isPgShutdown(pgErr.Code), true
		}
		if pgconn.Timeout(err) {
			return true, true
		}
		return false, false
	})
}

func isPgShutdown(code string) bool {
	switch code {
	case "57P01", "57P02", "57P03":
		return true
	}
	return false
}
