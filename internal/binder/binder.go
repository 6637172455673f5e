// Package binder maps an ordered parameter list onto statement placeholders.
//
// Every value is converted to one of the driver.Value kinds database/sql
// drivers understand (nil, int64, float64, bool, []byte, string, time.Time)
// or left as a driver.Valuer for the driver to resolve. nil (and nil
// pointers) bind as SQL NULL; there is no textual null sentinel. Values of
// any other type are rejected up front instead of being coerced.
package binder

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Error is returned when a parameter list cannot be bound.
type Error struct {
	Index    int    // zero-based parameter position, -1 for count mismatches
	Type     string // Go type of the offending value
	Expected int    // placeholder count, set for count mismatches
	Got      int    // parameter count, set for count mismatches
	Reason   string
}

func (e *Error) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("bind: statement has %d placeholders but %d parameters were given", e.Expected, e.Got)
	}
	return fmt.Sprintf("bind: parameter %d (%s): %s", e.Index+1, e.Type, e.Reason)
}

// Bind validates params against sql and converts them to driver values.
// The returned slice is a fresh copy; params is never modified.
func Bind(sql string, params []any) ([]any, error) {
	if n, ok := CountPlaceholders(sql); ok && n != len(params) {
		return nil, &Error{Index: -1, Expected: n, Got: len(params)}
	}

	args := make([]any, len(params))
	for i, p := range params {
		v, err := Convert(p)
		if err != nil {
			return nil, &Error{Index: i, Type: fmt.Sprintf("%T", p), Reason: err.Error()}
		}
		args[i] = v
	}
	return args, nil
}

var (
	timeType   = reflect.TypeOf(time.Time{})
	valuerType = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
)

// Convert converts a single parameter into a bindable value.
func Convert(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int64, float64, bool, string, time.Time:
		return x, nil
	case []byte:
		if x == nil {
			return nil, nil
		}
		return append([]byte(nil), x...), nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		return uintValue(uint64(x))
	case uint64:
		return uintValue(x)
	case float32:
		return float64(x), nil
	case uuid.UUID:
		return x.String(), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", string(x))
		}
		return f, nil
	case driver.Valuer:
		return valuer(x)
	}
	return convertReflect(reflect.ValueOf(v))
}

func uintValue(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("value %d overflows int64", u)
	}
	return int64(u), nil
}

// valuer resolves a driver.Valuer, guarding against nil pointer receivers
// and checking that the produced value is itself bindable.
func valuer(vr driver.Valuer) (any, error) {
	rv := reflect.ValueOf(vr)
	if rv.Kind() == reflect.Pointer && rv.IsNil() && rv.Type().Elem().Implements(valuerType) {
		return nil, nil
	}
	v, err := vr.Value()
	if err != nil {
		return nil, fmt.Errorf("Value(): %w", err)
	}
	if !driver.IsValue(v) {
		return nil, fmt.Errorf("Value() returned unsupported type %T", v)
	}
	return v, nil
}

// convertReflect handles pointers and named types whose underlying kind is
// a supported scalar.
func convertReflect(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return Convert(rv.Elem().Interface())
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return uintValue(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			if rv.IsNil() {
				return nil, nil
			}
			return append([]byte(nil), rv.Bytes()...), nil
		}
	case reflect.Struct:
		if rv.Type().ConvertibleTo(timeType) {
			return rv.Convert(timeType).Interface(), nil
		}
	}
	return nil, fmt.Errorf("unsupported parameter type")
}
