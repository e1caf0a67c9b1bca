// Package store provides the document store the coordination core persists
// through: JSON documents in named collections with find/save/insert
// semantics and revision-based optimistic concurrency.
//
// The store copy of a document is the source of truth. In-memory caches in
// the coordinator and workers are advisory; they re-read before persisting
// any state transition. Save enforces this: it fails with ErrConflict when
// the record changed since it was read, and callers fall back to
// UpdateFields to re-apply a narrowed delta.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"
)

// Common errors.
var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicateID = errors.New("duplicate record id")
	ErrConflict    = errors.New("record modified concurrently")
	ErrClosed      = errors.New("store closed")
	ErrInvalidID   = errors.New("invalid record id")
)

// Record is one stored document plus its concurrency metadata.
type Record struct {
	// ID is unique within the collection.
	ID string

	// Collection names the logical table this record lives in.
	Collection string

	// Revision is a monotonic version number, starting at 1 on insert
	// and incremented on every successful write.
	Revision uint64

	// Data is the JSON document.
	Data []byte

	// Created is when the record was inserted.
	Created time.Time

	// Modified is when the record was last written.
	Modified time.Time
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	clone := *r
	clone.Data = append([]byte(nil), r.Data...)
	return &clone
}

// Fields decodes the record's document into a generic map.
func (r *Record) Fields() (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(r.Data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Store is the persistence collaborator contract. Implementations must be
// safe for concurrent use.
type Store interface {
	// Insert creates a new record with revision 1.
	// Returns ErrDuplicateID if the id already exists in the collection.
	Insert(ctx context.Context, collection, id string, doc []byte) (*Record, error)

	// FindByID retrieves one record by id.
	// Returns ErrNotFound if absent.
	FindByID(ctx context.Context, collection, id string) (*Record, error)

	// FindOne returns the first record matching the filter, by id order.
	// Returns ErrNotFound if nothing matches.
	FindOne(ctx context.Context, collection string, filter Filter) (*Record, error)

	// Find returns all records matching the filter, sorted by id.
	// A nil filter matches everything.
	Find(ctx context.Context, collection string, filter Filter) ([]*Record, error)

	// Save replaces the record's document. The write succeeds only if
	// rec.Revision matches the stored revision; otherwise ErrConflict.
	// Returns the record at its new revision.
	Save(ctx context.Context, rec *Record) (*Record, error)

	// UpdateFields merges the given top-level fields into the current
	// document, regardless of intermediate writes. This is the narrow,
	// idempotent retry path after a Save conflict.
	UpdateFields(ctx context.Context, collection, id string, fields map[string]any) (*Record, error)

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Close releases resources.
	Close() error
}

// Filter matches documents by top-level field values. A plain value
// matches by loose equality (JSON numbers compare as float64); a Matcher
// value applies its own predicate.
type Filter map[string]any

// Matcher is a field predicate usable as a Filter value.
type Matcher interface {
	Match(v any) bool
}

type inMatcher struct{ values []any }

func (m inMatcher) Match(v any) bool {
	for _, want := range m.values {
		if looseEqual(v, want) {
			return true
		}
	}
	return false
}

// In matches a field equal to any of the given values.
func In(values ...any) Matcher {
	return inMatcher{values: values}
}

type notMatcher struct{ value any }

func (m notMatcher) Match(v any) bool {
	return !looseEqual(v, m.value)
}

// Not matches a field different from the given value. An absent field
// also matches.
func Not(value any) Matcher {
	return notMatcher{value: value}
}

// Matches reports whether a decoded document satisfies the filter.
func (f Filter) Matches(fields map[string]any) bool {
	for key, want := range f {
		got, ok := fields[key]
		if m, isMatcher := want.(Matcher); isMatcher {
			if !m.Match(got) {
				return false
			}
			continue
		}
		if !ok || !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// looseEqual compares values across the JSON decoding boundary, where all
// numbers arrive as float64 and enum-like types are plain strings.
func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	if as, ok := toString(a); ok {
		if bs, ok := toString(b); ok {
			return as == bs
		}
		return false
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
		return false
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toString accepts plain strings and string-kinded types such as the
// fleet status enums.
func toString(v any) (string, bool) {
	if s, ok := v.(string); ok {
		return s, true
	}
	if v == nil {
		return "", false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

// MergeFields applies a targeted field update onto a JSON document and
// returns the merged document. Shared by store implementations.
func MergeFields(doc []byte, fields map[string]any) ([]byte, error) {
	current := make(map[string]any)
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &current); err != nil {
			return nil, err
		}
	}
	for k, v := range fields {
		if v == nil {
			delete(current, k)
			continue
		}
		current[k] = v
	}
	return json.Marshal(current)
}
