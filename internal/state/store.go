// Package state tracks the last-known value of every console path the
// client has observed, and hands out point-in-time snapshots of it.
package state

import (
	"sync"

	"github.com/mitchellh/mapstructure"
)

// Snapshot is a point-in-time copy of the last-known console values,
// keyed by console path. A Snapshot is never mutated after creation.
type Snapshot map[string]any

// Bool reads a switch value from the snapshot, through CoerceBool, so
// firmware that reports switches numerically reads the same as firmware
// that reports real booleans.
func (s Snapshot) Bool(path string) (value, ok bool) {
	v, ok := s[path]
	if !ok {
		return false, false
	}
	return CoerceBool(v)
}

// Float reads a numeric value from the snapshot, through CoerceFloat.
func (s Snapshot) Float(path string) (float64, bool) {
	v, ok := s[path]
	if !ok {
		return 0, false
	}
	return CoerceFloat(v)
}

// CoerceBool decodes the console's representation of a switch value.
// Consoles deliver switches as true/false, 0/1, or "1"/"0" strings
// depending on firmware; weak decoding absorbs all of them. Every
// consumer of stored values must read switches through this, never with
// a type assertion, or the same console state compares differently in
// different packages.
func CoerceBool(value any) (bool, bool) {
	var b bool
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &b,
	})
	if err != nil || dec.Decode(value) != nil {
		return false, false
	}
	return b, true
}

// CoerceFloat decodes a numeric value regardless of wire representation.
func CoerceFloat(value any) (float64, bool) {
	var f float64
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &f,
	})
	if err != nil || dec.Decode(value) != nil {
		return 0, false
	}
	return f, true
}

// Store is the mutable last-known-value cache behind Snapshot.
// It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string]any)}
}

// Set records the latest observed value for a path.
func (s *Store) Set(path string, value any) {
	s.mu.Lock()
	s.values[path] = value
	s.mu.Unlock()
}

// Get returns the last-known value for a path, if any.
func (s *Store) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[path]
	return v, ok
}

// Snapshot returns a point-in-time copy of all known values.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, len(s.values))
	for path, v := range s.values {
		snap[path] = v
	}
	return snap
}

// Clear drops all cached values. Called when a connection is lost, so a
// stale readback is never mistaken for current console state.
func (s *Store) Clear() {
	s.mu.Lock()
	s.values = make(map[string]any)
	s.mu.Unlock()
}
