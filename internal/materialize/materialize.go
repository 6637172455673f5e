// Package materialize drains a driver cursor into an in-memory result.
//
// Rows are read in full before the connection is returned to the pool, so
// a caller never holds a live cursor. Values keep the driver's column
// order. Textual columns that the driver hands back as []byte are turned
// into strings; every other []byte is copied because drivers may reuse the
// buffer on the next call to Next.
package materialize

import (
	"database/sql"
	"fmt"
	"strings"
)

// Scanner is the subset of *sqlx.Rows the materializer reads from.
type Scanner interface {
	Columns() ([]string, error)
	ColumnTypes() ([]*sql.ColumnType, error)
	Next() bool
	SliceScan() ([]any, error)
	Err() error
	Close() error
}

// Error reports a failure while reading a result set.
type Error struct {
	Row int // zero-based row being read, -1 before the first row
	Err error
}

func (e *Error) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("materialize: %v", e.Err)
	}
	return fmt.Sprintf("materialize: row %d: %v", e.Row, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Rows reads every row from rows and closes it. results is never nil.
func Rows(rows Scanner) (columns []string, results [][]any, err error) {
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = &Error{Row: -1, Err: fmt.Errorf("close rows: %w", cerr)}
		}
	}()

	columns, err = rows.Columns()
	if err != nil {
		return nil, nil, &Error{Row: -1, Err: fmt.Errorf("columns: %w", err)}
	}
	textual := textualColumns(rows, len(columns))

	results = make([][]any, 0)
	for rows.Next() {
		row := len(results)
		values, err := rows.SliceScan()
		if err != nil {
			return nil, nil, &Error{Row: row, Err: err}
		}
		if len(values) != len(columns) {
			return nil, nil, &Error{Row: row, Err: fmt.Errorf("got %d values for %d columns", len(values), len(columns))}
		}
		for i, v := range values {
			values[i] = normalize(v, textual[i])
		}
		results = append(results, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, &Error{Row: len(results), Err: err}
	}
	return columns, results, nil
}

// Keys returns the generated keys as an ordered, non-nil slice with nil
// entries removed.
func Keys(raw []any) []any {
	keys := make([]any, 0, len(raw))
	for _, k := range raw {
		if k != nil {
			keys = append(keys, k)
		}
	}
	return keys
}

func normalize(v any, textual bool) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if b == nil {
		return nil
	}
	if textual {
		return string(b)
	}
	return append([]byte(nil), b...)
}

// textualColumns reports, per column, whether the database type is a
// character type. Unknown types are treated as binary.
func textualColumns(rows Scanner, n int) []bool {
	textual := make([]bool, n)
	types, err := rows.ColumnTypes()
	if err != nil || len(types) != n {
		return textual
	}
	for i, ct := range types {
		if ct != nil {
			textual[i] = IsTextType(ct.DatabaseTypeName())
		}
	}
	return textual
}

var binaryMarkers = []string{"BLOB", "BINARY", "BYTEA", "BIT"}

var textMarkers = []string{
	"CHAR", "TEXT", "CLOB", "JSON", "XML", "UUID", "ENUM", "SET",
	"DECIMAL", "NUMERIC", "DATE", "TIME", "YEAR", "INTERVAL", "NAME",
}

// IsTextType reports whether a driver type name denotes character data.
func IsTextType(name string) bool {
	name = strings.ToUpper(name)
	if name == "" {
		return false
	}
	for _, m := range binaryMarkers {
		if strings.Contains(name, m) {
			return false
		}
	}
	for _, m := range textMarkers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}
