package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Optional wraps a JSON field so callers can tell three states apart:
//
//   - key absent:        Set == false
//   - key set to null:   Set == true, Null == true
//   - key set to value:  Set == true, Null == false, Value holds it
//
// An empty string or a zero number is a value, not an absence.
type Optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Value: v} }

// Null returns an Optional explicitly set to null.
func Null[T any]() Optional[T] { return Optional[T]{Set: true, Null: true} }

// Get returns the value and whether the field carried a non-null value.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set && !o.Null
}

// UnmarshalJSON is only invoked by encoding/json when the key is present.
// Integer fields also accept a quoted whole number ("90"), as sent by HTML
// form inputs.
func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		o.Null = true
		var zero T
		o.Value = zero
		return nil
	}
	o.Null = false
	if n, ok := any(&o.Value).(*int); ok && len(b) > 0 && b[0] == '"' {
		return unquoteInt(b, n)
	}
	return json.Unmarshal(b, &o.Value)
}

func unquoteInt(b []byte, dst *int) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("%q is not a whole number", s)
	}
	*dst = v
	return nil
}

// MarshalJSON encodes unset and null values as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Null {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}
