// Package agent drives the agent-execution backend and models its event stream.
package agent

import (
	"encoding/json"
)

// EventKind is the stable discriminator of a backend event.
type EventKind string

const (
	KindInit      EventKind = "init"
	KindSystem    EventKind = "system"
	KindAssistant EventKind = "assistant"
	KindResult    EventKind = "result"
	KindUnknown   EventKind = "unknown"
)

// ResultSuccess is the result subtype of a run that finished normally.
const ResultSuccess = "success"

// Event is one message from the backend stream. The set of implementations is closed.
type Event interface {
	Kind() EventKind
	isEvent()
}

// InitEvent opens a run and carries the backend-assigned session id.
type InitEvent struct {
	SessionID      string
	Model          string
	Tools          []string
	CWD            string
	PermissionMode string
}

// SystemEvent is any system message other than init (compaction markers and the like).
type SystemEvent struct {
	Subtype   string
	SessionID string
}

// ContentBlock is one piece of an assistant turn.
type ContentBlock struct {
	Type  string
	Text  string
	ID    string
	Name  string
	Input json.RawMessage
}

// AssistantEvent is one assistant turn.
type AssistantEvent struct {
	SessionID string
	Content   []ContentBlock
}

// PermissionDenial records a tool call the backend refused to run.
type PermissionDenial struct {
	ToolName  string          `json:"tool_name"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

// ResultEvent is the terminal event of a run.
type ResultEvent struct {
	Subtype           string
	SessionID         string
	IsError           bool
	Result            string
	StopReason        string
	NumTurns          int
	DurationMS        int64
	TotalCostUSD      float64
	Errors            []string
	PermissionDenials []PermissionDenial
}

// Success reports whether the run finished normally.
func (e *ResultEvent) Success() bool {
	return e.Subtype == ResultSuccess
}

// UnknownEvent preserves a message type this package does not model.
type UnknownEvent struct {
	Type    string
	Subtype string
	Raw     json.RawMessage
}

func (*InitEvent) Kind() EventKind      { return KindInit }
func (*SystemEvent) Kind() EventKind    { return KindSystem }
func (*AssistantEvent) Kind() EventKind { return KindAssistant }
func (*ResultEvent) Kind() EventKind    { return KindResult }
func (*UnknownEvent) Kind() EventKind   { return KindUnknown }

func (*InitEvent) isEvent()      {}
func (*SystemEvent) isEvent()    {}
func (*AssistantEvent) isEvent() {}
func (*ResultEvent) isEvent()    {}
func (*UnknownEvent) isEvent()   {}

// RunOptions describe one run request.
type RunOptions struct {
	Prompt         string
	AllowedTools   []string
	PermissionMode string
	WorkDir        string
	// ResumeID continues a prior session when non-empty.
	ResumeID string
}

// DefaultAllowedTools is the capability set granted to runs unless configured otherwise.
var DefaultAllowedTools = []string{"Read", "Edit", "Write", "Bash", "Glob", "Grep"}

// DefaultPermissionMode lets the agent act without interactive approval.
const DefaultPermissionMode = "bypassPermissions"
