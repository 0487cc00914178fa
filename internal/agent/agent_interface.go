package agent

import (
	"context"
	"iter"
)

// Runtime starts agent runs.
// This interface is implemented by the Claude Code CLI runtime.
type Runtime interface {
	// Start launches a run. The returned Run must be drained with Events.
	Start(ctx context.Context, opts RunOptions) (Run, error)
}

// Run is a live handle on one backend run.
type Run interface {
	// Events yields backend events in order. A non-nil error ends the sequence.
	Events() iter.Seq2[Event, error]

	// Interrupt asks the backend to stop. It does not wait for the stream to end.
	Interrupt(ctx context.Context) error
}

// Ensure CLIRuntime implements Runtime.
var _ Runtime = (*CLIRuntime)(nil)
