// Package domain contains core domain types for the chat-to-agent bridge.
package domain

import (
	"time"
	"unicode/utf8"
)

// PromptMaxLen is the number of characters of the first prompt kept on a record.
const PromptMaxLen = 200

// Status is the lifecycle state of one agent run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status ends a run.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a record in status s may move to next.
// A record leaves running exactly once and never returns to it.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	return s == StatusRunning && next.IsTerminal()
}

// SessionRecord is the durable metadata of one agent session.
type SessionRecord struct {
	SessionID string    `json:"sessionId"`
	Prompt    string    `json:"prompt"`
	CWD       string    `json:"cwd"`
	CreatedAt time.Time `json:"createdAt"`
	Status    Status    `json:"status"`
}

// NewSessionRecord builds a running record for a freshly assigned session id.
func NewSessionRecord(sessionID, prompt, cwd string, now time.Time) SessionRecord {
	return SessionRecord{
		SessionID: sessionID,
		Prompt:    TruncateRunes(prompt, PromptMaxLen),
		CWD:       cwd,
		CreatedAt: now.UTC(),
		Status:    StatusRunning,
	}
}

// Merge folds an incoming write for the same session into the stored record.
// Identity fields stay as first written; status only moves forward.
func (r SessionRecord) Merge(next SessionRecord) SessionRecord {
	merged := r
	if merged.Status.CanTransition(next.Status) {
		merged.Status = next.Status
	}
	return merged
}

// SessionStore maps a user id to that user's records in creation order.
type SessionStore map[string][]SessionRecord

// Clone returns a deep copy so callers can mutate without aliasing.
func (s SessionStore) Clone() SessionStore {
	out := make(SessionStore, len(s))
	for userID, records := range s {
		out[userID] = append([]SessionRecord(nil), records...)
	}
	return out
}

// TruncateRunes cuts s to at most n characters without splitting a rune.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Ellipsize shortens s to at most n characters, ending in "..." when cut.
func Ellipsize(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return TruncateRunes(s, n)
	}
	return TruncateRunes(s, n-3) + "..."
}
