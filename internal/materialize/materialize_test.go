package materialize

import (
	"database/sql"
	"errors"
	"testing"
)

type fakeRows struct {
	columns []string
	rows    [][]any
	pos     int
	scanErr error
	iterErr error
	closed  bool
}

func (f *fakeRows) Columns() ([]string, error)              { return f.columns, nil }
func (f *fakeRows) ColumnTypes() ([]*sql.ColumnType, error) { return nil, errors.New("not supported") }
func (f *fakeRows) Err() error                              { return f.iterErr }

func (f *fakeRows) Close() error {
	f.closed = true
	return nil
}

func (f *fakeRows) Next() bool {
	if f.pos >= len(f.rows) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeRows) SliceScan() ([]any, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return append([]any(nil), f.rows[f.pos-1]...), nil
}

func TestRows_PreservesOrderAndNulls(t *testing.T) {
	fr := &fakeRows{
		columns: []string{"id", "lname", "dob"},
		rows: [][]any{
			{int64(1), nil, "2002-02-02"},
			{int64(2), "LastName1", nil},
		},
	}

	cols, results, err := Rows(fr)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if !fr.closed {
		t.Error("expected rows to be closed")
	}
	if len(cols) != 3 || cols[1] != "lname" {
		t.Errorf("unexpected columns %v", cols)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(results))
	}
	if results[0][1] != nil || results[1][2] != nil {
		t.Errorf("expected NULLs to stay nil, got %v", results)
	}
	if results[1][1] != "LastName1" {
		t.Errorf("expected LastName1, got %v", results[1][1])
	}
}

func TestRows_EmptyResultIsNonNil(t *testing.T) {
	_, results, err := Rows(&fakeRows{columns: []string{"a"}})
	if err != nil {
		t.Fatal(err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty non-nil results, got %#v", results)
	}
}

func TestRows_CopiesUntypedBytes(t *testing.T) {
	buf := []byte("blob")
	fr := &fakeRows{columns: []string{"b"}, rows: [][]any{{buf}}}

	_, results, err := Rows(fr)
	if err != nil {
		t.Fatal(err)
	}
	buf[0] = 'X'
	got, ok := results[0][0].([]byte)
	if !ok || string(got) != "blob" {
		t.Errorf("expected an independent copy of the bytes, got %#v", results[0][0])
	}
}

func TestRows_ScanError(t *testing.T) {
	fr := &fakeRows{
		columns: []string{"a"},
		rows:    [][]any{{1}},
		scanErr: errors.New("bad value"),
	}
	_, _, err := Rows(fr)
	var me *Error
	if !errors.As(err, &me) {
		t.Fatalf("expected *materialize.Error, got %v", err)
	}
	if me.Row != 0 {
		t.Errorf("expected Row=0, got %d", me.Row)
	}
	if !fr.closed {
		t.Error("rows must be closed on error")
	}
}

func TestRows_IterationError(t *testing.T) {
	cause := errors.New("cursor lost")
	fr := &fakeRows{columns: []string{"a"}, rows: [][]any{{1}}, iterErr: cause}
	_, _, err := Rows(fr)
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cursor error, got %v", err)
	}
	var me *Error
	if errors.As(err, &me) && me.Row != 1 {
		t.Errorf("expected Row=1, got %d", me.Row)
	}
}

func TestRows_WidthMismatch(t *testing.T) {
	fr := &fakeRows{columns: []string{"a", "b"}, rows: [][]any{{1}}}
	_, _, err := Rows(fr)
	var me *Error
	if !errors.As(err, &me) {
		t.Fatalf("expected *materialize.Error, got %v", err)
	}
}

func TestKeys(t *testing.T) {
	if k := Keys(nil); k == nil || len(k) != 0 {
		t.Errorf("expected empty non-nil keys, got %#v", k)
	}
	k := Keys([]any{int64(3), nil, int64(4)})
	if len(k) != 2 || k[0] != int64(3) || k[1] != int64(4) {
		t.Errorf("unexpected keys %v", k)
	}
}

func TestIsTextType(t *testing.T) {
	tests := map[string]bool{
		"VARCHAR":   true,
		"text":      true,
		"DATE":      true,
		"DECIMAL":   true,
		"JSON":      true,
		"BLOB":      false,
		"VARBINARY": false,
		"BYTEA":     false,
		"INTEGER":   false,
		"":          false,
	}
	for name, want := range tests {
		if got := IsTextType(name); got != want {
			t.Errorf("IsTextType(%q) = %v, want %v", name, got, want)
		}
	}
}
