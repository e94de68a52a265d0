// Package session keeps per-visitor state (login, flash messages) in a
// server-side store addressed by a signed cookie. Nothing is stored for a
// visitor until the session first changes.
package session

import "time"

// Flash levels map onto Bootstrap alert classes.
const (
	LevelSuccess = "success"
	LevelError   = "danger"
	LevelInfo    = "info"
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Session is the server-side state of one visitor.
type Session struct {
	ID        string    `json:"-"`
	UserID    int64     `json:"user_id,omitempty"`
	Flashes   []Flash   `json:"flashes,omitempty"`
	ExpiresAt time.Time `json:"-"`

	dirty  bool
	issued bool // the visitor holds a cookie for ID
}

// AddFlash queues a message for the next page.
func (s *Session) AddFlash(level, text string) {
	s.Flashes = append(s.Flashes, Flash{Level: level, Text: text})
	s.dirty = true
}

// PopFlashes returns and clears the queued messages.
func (s *Session) PopFlashes() []Flash {
	if len(s.Flashes) == 0 {
		return nil
	}
	out := s.Flashes
	s.Flashes = nil
	s.dirty = true
	return out
}

// SetUser binds the session to a user; zero logs out.
func (s *Session) SetUser(id int64) {
	s.UserID = id
	s.dirty = true
}

// Authenticated reports whether a user is logged in.
func (s *Session) Authenticated() bool {
	return s.UserID != 0
}
