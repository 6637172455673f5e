package adapter

import (
	"errors"

	"github.com/go-sql-driver/mysql" // registers the "mysql" driver
)

// Server errors that end the session even though they arrive as a
// regular error packet.
var mysqlFatal = map[uint16]bool{
	1053: true, // ER_SERVER_SHUTDOWN
	1077: true, // ER_NORMAL_SHUTDOWN
	1152: true, // ER_ABORTING_CONNECTION
	1153: true, // ER_NET_PACKET_TOO_LARGE
}

func init() {
	registerClassifier(func(err error) (bool, bool) {
		if errors.Is(err, mysql.ErrInvalidConn) {
			return true, true
		}
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) {
			return mysqlFatal[myErr.Number], true
		}
		return false, false
	})
}
