// Package session provides the request-scoped browser session used by the
// login flow. Values are JSON-encoded under string keys; the session id
// travels in a signed and encrypted cookie and the values live in a
// Backend.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// ErrNotFound is returned by backends for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

// Session is one browser session. It is not safe for concurrent use; each
// request gets its own copy from Store.Load.
type Session struct {
	id        string
	retired   string
	values    map[string]json.RawMessage
	isNew     bool
	dirty     bool
	destroyed bool
}

// New returns an empty, unsaved session.
func New() *Session {
	return &Session{values: map[string]json.RawMessage{}, isNew: true}
}

func loaded(id string, values map[string]json.RawMessage) *Session {
	if values == nil {
		values = map[string]json.RawMessage{}
	}
	return &Session{id: id, values: values}
}

// ID returns the session id, empty until the session is first saved.
func (s *Session) ID() string { return s.id }

// IsNew reports whether the session was created during this request.
func (s *Session) IsNew() bool { return s.isNew }

// Dirty reports whether the session changed since it was loaded.
func (s *Session) Dirty() bool { return s.dirty }

// Has reports whether key is set.
func (s *Session) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Get decodes the value stored under key into dst. It reports false when
// the key is absent.
func (s *Session) Get(key string, dst any) (bool, error) {
	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode session value %q: %w", key, err)
	}
	return true, nil
}

// Set stores v under key.
func (s *Session) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode session value %q: %w", key, err)
	}
	s.values[key] = raw
	s.dirty = true
	return nil
}

// Delete removes key. Deleting an absent key leaves the session clean.
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// Regenerate gives the session a fresh id on its next save and retires the
// current one. Values are kept. Call it when the session's privilege
// changes, such as after login.
func (s *Session) Regenerate() {
	if s.id != "" && s.retired == "" {
		s.retired = s.id
	}
	s.id = ""
	s.isNew = true
	s.dirty = true
}

// Len returns the number of stored values.
func (s *Session) Len() int { return len(s.values) }

func (s *Session) snapshot() map[string]json.RawMessage {
	return maps.Clone(s.values)
}
