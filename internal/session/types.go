package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for absent and expired sessions alike.
var ErrNotFound = errors.New("session not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session's conversation history.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is one conversation between a booth visitor and a persona.
type Session struct {
	ID           string    `json:"session_id"`
	BoothID      string    `json:"booth_id"`
	Personality  string    `json:"personality"`
	Mode         string    `json:"mode"`
	History      []Turn    `json:"history"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// StartParams identifies the session a booth wants to open.
type StartParams struct {
	ID          string
	BoothID     string
	Personality string
	Mode        string
}

// Options are store-wide settings shared by every session.
type Options struct {
	TTL             time.Duration
	HistoryMaxTurns int
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 10 * time.Minute
	}
	if o.HistoryMaxTurns <= 0 {
		o.HistoryMaxTurns = 8
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) expired(lastActive, now time.Time) bool {
	return now.Sub(lastActive) >= o.TTL
}

// Store holds live sessions. Every read treats records older than the TTL as
// absent. AppendTurns is the only mutation of an open session and is
// serialized per session id.
type Store interface {
	// CreateOrGet opens a session or returns the unexpired one with the same id
	// unchanged. created reports whether a new session was made.
	CreateOrGet(ctx context.Context, p StartParams) (s *Session, created bool, err error)
	Get(ctx context.Context, id string) (*Session, error)
	// AppendTurns atomically appends turns, trims the history window, refreshes
	// LastActiveAt and, when mode is non-empty, records the mode.
	AppendTurns(ctx context.Context, id, mode string, turns ...Turn) (*Session, error)
	// Release drops a session. Unknown ids are not an error.
	Release(ctx context.Context, id string) error
	// Sweep physically removes expired records and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
	Close() error
}

func trimHistory(h []Turn, max int) []Turn {
	if max <= 0 || len(h) <= max {
		return h
	}
	return append([]Turn(nil), h[len(h)-max:]...)
}

func clone(s *Session) *Session {
	c := *s
	c.History = append([]Turn(nil), s.History...)
	return &c
}
