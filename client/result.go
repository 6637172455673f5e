package client

// UpdateResult is the outcome of a statement that does not return rows.
type UpdateResult struct {
	Updated int64 `json:"updated"`
	// Keys holds generated keys in insertion order. It is empty, never nil,
	// when the statement produced none.
	Keys []any `json:"keys"`
}

// ResultSet is a fully materialized query result.
type ResultSet struct {
	Columns []string `json:"columns"`
	Results [][]any  `json:"results"`
}

// NumRows returns the number of rows.
func (rs *ResultSet) NumRows() int { return len(rs.Results) }

// NumColumns returns the number of columns.
func (rs *ResultSet) NumColumns() int { return len(rs.Columns) }

// Value returns the value at row, col, or nil when out of range.
func (rs *ResultSet) Value(row, col int) any {
	if row < 0 || row >= len(rs.Results) || col < 0 || col >= len(rs.Results[row]) {
		return nil
	}
	return rs.Results[row][col]
}

// ColumnIndex returns the position of the named column, or -1.
func (rs *ResultSet) ColumnIndex(name string) int {
	for i, c := range rs.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Rows returns each row as a map keyed by column name. When column names
// repeat, the last one wins.
func (rs *ResultSet) Rows() []map[string]any {
	out := make([]map[string]any, len(rs.Results))
	for i, row := range rs.Results {
		m := make(map[string]any, len(rs.Columns))
		for j, c := range rs.Columns {
			if j < len(row) {
				m[c] = row[j]
			}
		}
		out[i] = m
	}
	return out
}
