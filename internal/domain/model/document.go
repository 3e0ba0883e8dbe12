package model

import (
	"fmt"

	"github.com/google/go-cmp/cmp"
)

// Document is a decoded JSON value: map[string]any, []any, string, float64, bool or nil.
type Document = any

// Record describes one activity or device as reported by the hub.
type Record map[string]any

// ID returns the record's "id" value rendered as a string, or "" when missing.
func (r Record) ID() string {
	v, ok := r["id"]
	if !ok || v == nil {
		return ""
	}
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}

// Label returns the record's "label" value, or "" when missing.
func (r Record) Label() string {
	s, _ := r["label"].(string)
	return s
}

// Snapshot holds a state document that is either absent (not yet fetched) or present.
type Snapshot[T any] struct {
	value   T
	present bool
}

func Present[T any](v T) Snapshot[T] {
	return Snapshot[T]{value: v, present: true}
}

func Absent[T any]() Snapshot[T] {
	return Snapshot[T]{}
}

func (s Snapshot[T]) Present() bool {
	return s.present
}

// Value returns the stored value; the zero value when absent.
func (s Snapshot[T]) Value() T {
	return s.value
}

// Get returns the value and whether it is present.
func (s Snapshot[T]) Get() (T, bool) {
	return s.value, s.present
}

// Clone returns a snapshot whose value shares no maps or slices with s.
func (s Snapshot[T]) Clone() Snapshot[T] {
	if !s.present {
		return s
	}
	v, _ := CloneDocument(s.value).(T)
	return Snapshot[T]{value: v, present: true}
}

// Equal reports structural equality. Absent only equals absent; lists compare in order.
func (s Snapshot[T]) Equal(other Snapshot[T]) bool {
	if s.present != other.present {
		return false
	}
	if !s.present {
		return true
	}
	return DocumentsEqual(s.value, other.value)
}

// DocumentsEqual compares two JSON-like values structurally. A nil slice equals an empty one.
func DocumentsEqual(a, b any) bool {
	return cmp.Equal(a, b, cmp.FilterValues(bothEmpty, cmp.Ignore()))
}

func bothEmpty(a, b any) bool {
	return isEmptyList(a) && isEmptyList(b)
}

func isEmptyList(v any) bool {
	switch l := v.(type) {
	case []Record:
		return len(l) == 0
	case []any:
		return len(l) == 0
	}
	return false
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = CloneDocument(v)
	}
	return out
}

// CloneRecords deep-copies a record list. A nil list stays nil.
func CloneRecords(list []Record) []Record {
	if list == nil {
		return nil
	}
	out := make([]Record, len(list))
	for i, r := range list {
		out[i] = r.Clone()
	}
	return out
}

// CloneDocument deep-copies a JSON-like value, keeping Record and []Record types.
func CloneDocument(v any) any {
	switch d := v.(type) {
	case Record:
		return d.Clone()
	case []Record:
		return CloneRecords(d)
	case map[string]any:
		if d == nil {
			return d
		}
		out := make(map[string]any, len(d))
		for k, e := range d {
			out[k] = CloneDocument(e)
		}
		return out
	case []any:
		if d == nil {
			return d
		}
		out := make([]any, len(d))
		for i, e := range d {
			out[i] = CloneDocument(e)
		}
		return out
	}
	return v
}

// Records converts a decoded JSON array into records, skipping non-object entries.
func Records(doc Document) []Record {
	items, ok := doc.([]any)
	if !ok {
		if recs, ok := doc.([]Record); ok {
			return recs
		}
		return nil
	}
	out := make([]Record, 0, len(items))
	for _, item := range items {
		switch m := item.(type) {
		case map[string]any:
			out = append(out, Record(m))
		case Record:
			out = append(out, m)
		}
	}
	return out
}
