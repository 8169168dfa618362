// Package spatial holds the geometric primitives and the contract shared by
// the quadtree and R*-tree indexes.
package spatial

import "reflect"

// Entry pairs a stored envelope with its payload.
type Entry[T any] struct {
	Envelope Envelope
	Value    T
}

// SpatialIndex is implemented by every index in this module. Implementations
// are single-owner structures; callers serialize access.
type SpatialIndex[T comparable] interface {
	// Insert stores obj under env. It returns false without touching the
	// index if obj is nil or env does not intersect the root envelope.
	Insert(env Envelope, obj T) bool
	// Remove deletes one entry holding obj. It returns false if obj is nil,
	// the index is empty or nothing matches.
	Remove(obj T) bool
	// Query returns every distinct payload whose envelope intersects env.
	Query(env Envelope) []T
	// Clear discards all entries.
	Clear()
	// InsertBulk replaces the content of the index with entries.
	InsertBulk(entries []Entry[T])
	// Len returns the number of stored entries.
	Len() int
	// Envelope returns the root envelope of the index.
	Envelope() Envelope
}

// IsNil reports whether v is nil or a typed nil (pointer, map, slice,
// channel, func or interface).
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Dedup returns values in first-seen order with repeats removed.
func Dedup[T comparable](values []T) []T {
	if len(values) == 0 {
		return []T{}
	}
	seen := make(map[T]struct{}, len(values))
	out := make([]T, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
