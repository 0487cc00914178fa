// Package coordinator owns per-user run state and drives agent runs to completion.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/claudebot/internal/agent"
	"github.com/ashureev/claudebot/internal/domain"
	"github.com/ashureev/claudebot/internal/store"
)

// PlaceholderText is posted while a run is in flight.
const PlaceholderText = "Processing..."

var (
	// ErrAlreadyRunning is returned by StartRun when the user holds a run token.
	ErrAlreadyRunning = errors.New("a run is already in progress")
	// ErrNothingToResume is returned by Resume when the user has no stored sessions.
	ErrNothingToResume = errors.New("no sessions to resume")
)

// IndexOutOfRangeError rejects a resume index outside 1..Count.
type IndexOutOfRangeError struct {
	Index int
	Count int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("session index %d out of range 1~%d", e.Index, e.Count)
}

// Outbox delivers run output back to the user who started it.
type Outbox interface {
	// Send delivers text best-effort. Blank text is ignored.
	Send(ctx context.Context, text string)
	// Placeholder posts a transient message and returns a func that removes it.
	Placeholder(ctx context.Context, text string) (remove func())
}

// CancelOutcome is the result of a cancel request.
type CancelOutcome int

const (
	CancelNothingRunning CancelOutcome = iota
	CancelSucceeded
	CancelFailedCleanedUp
)

// Status is a snapshot of one user's in-memory state.
type Status struct {
	ActiveSessionID string
	WorkDir         string
	Running         bool
}

// Config holds the agent options applied to every run.
type Config struct {
	AllowedTools   []string
	PermissionMode string
	// DefaultWorkDir is used when the user has not chosen a directory.
	DefaultWorkDir string
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithTranscript records prompts, progress lines and results.
func WithTranscript(l agent.ConversationLogger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.transcript = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator enforces one run per user and keeps the durable session records current.
type Coordinator struct {
	runtime    agent.Runtime
	repo       store.Repository
	cfg        Config
	reg        *registry
	transcript agent.ConversationLogger
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Coordinator.
func New(runtime agent.Runtime, repo store.Repository, cfg Config, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultWorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.DefaultWorkDir = wd
		}
	}
	c := &Coordinator{
		runtime:    runtime,
		repo:       repo,
		cfg:        cfg,
		reg:        newRegistry(),
		transcript: noTranscript{},
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRun runs prompt for userID and blocks until the backend stream ends.
// It returns ErrAlreadyRunning without side effects when a run is in flight.
func (c *Coordinator) StartRun(ctx context.Context, userID, prompt string, out Outbox) error {
	runCtx, cancel := context.WithCancel(ctx)
	h := &runHandle{runID: uuid.NewString(), cancel: cancel}

	resumeID, workDir, ok := c.reg.acquire(userID, h)
	if !ok {
		cancel()
		return ErrAlreadyRunning
	}
	h.resumeID = resumeID
	if workDir == "" {
		workDir = c.cfg.DefaultWorkDir
	}

	log := c.logger.With("user_id", userID, "run_id", h.runID)
	log.Info("Run started",
		"prompt", domain.Ellipsize(prompt, 50),
		"cwd", workDir,
		"resume", resumeID != "",
	)

	start := c.now()
	removePlaceholder := out.Placeholder(ctx, PlaceholderText)
	defer func() {
		cancel()
		c.reg.release(userID, h)
		removePlaceholder()
		log.Info("Run finished", "elapsed_ms", c.now().Sub(start).Milliseconds())
	}()

	c.transcript.Log(agent.ConversationLogEvent{
		UserID:     userID,
		SessionID:  resumeID,
		RunID:      h.runID,
		Channel:    "chat",
		Direction:  "inbound",
		EventType:  "user_prompt",
		ContentRaw: prompt,
	})

	err := c.drive(runCtx, log, userID, prompt, workDir, h, out)
	if err == nil {
		return nil
	}

	elapsed := c.now().Sub(start).Milliseconds()
	if h.cancelled() {
		log.Info("Run stream ended after cancel", "error", err, "elapsed_ms", elapsed)
		return nil
	}

	detail := fmt.Sprintf("[%s] %s (elapsed=%dms)", errorName(err), err.Error(), elapsed)
	var pe *panicError
	if errors.As(err, &pe) {
		log.Error("Run panicked", "error", err, "elapsed_ms", elapsed, "stack", string(pe.stack))
	} else {
		log.Error("Run failed", "error", err, "elapsed_ms", elapsed)
	}
	out.Send(ctx, "Error:\n"+detail)

	if id := h.capturedSession(); id != "" {
		c.setStatus(ctx, log, userID, id, domain.StatusError)
	}
	return nil
}

// drive starts the backend and consumes its stream. Panics are converted to errors.
func (c *Coordinator) drive(ctx context.Context, log *slog.Logger, userID, prompt, workDir string, h *runHandle, out Outbox) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	run, err := c.runtime.Start(ctx, agent.RunOptions{
		Prompt:         prompt,
		AllowedTools:   c.cfg.AllowedTools,
		PermissionMode: c.cfg.PermissionMode,
		WorkDir:        workDir,
		ResumeID:       h.resumeID,
	})
	if err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	if !h.attach(run) {
		if ierr := run.Interrupt(ctx); ierr != nil {
			log.Warn("Interrupt after early cancel failed", "error", ierr)
		}
	}

	start := c.now()
	var (
		msgCount   int
		errorBlock string
	)
	for ev, streamErr := range run.Events() {
		if streamErr != nil {
			return streamErr
		}
		msgCount++
		log.Debug("Agent message",
			"n", msgCount,
			"kind", ev.Kind(),
			"elapsed_ms", c.now().Sub(start).Milliseconds(),
		)

		switch e := ev.(type) {
		case *agent.InitEvent:
			c.onInit(ctx, log, userID, prompt, workDir, h, e)
		case *agent.ResultEvent:
			if e.Success() {
				c.setStatus(ctx, log, userID, h.capturedSession(), domain.StatusDone)
				c.logTranscript(userID, h, "result", e.Result)
			} else {
				errorBlock = agent.FormatResultError(e)
				log.Error("Run ended unsuccessfully", "result", errorBlock)
				c.setStatus(ctx, log, userID, h.capturedSession(), domain.StatusError)
				c.logTranscript(userID, h, "result_error", errorBlock)
			}
		case *agent.UnknownEvent:
			log.Debug("Ignoring unknown agent event", "type", e.Type, "subtype", e.Subtype)
		}

		if line, ok := agent.FormatEvent(ev); ok {
			out.Send(ctx, line)
			c.logTranscript(userID, h, "progress", line)
		}
	}

	log.Info("Agent stream complete", "messages", msgCount, "elapsed_ms", c.now().Sub(start).Milliseconds())

	if strings.HasPrefix(errorBlock, agent.ErrorBlockPrefix) {
		out.Send(ctx, errorBlock)
	}
	return nil
}

func (c *Coordinator) onInit(ctx context.Context, log *slog.Logger, userID, prompt, workDir string, h *runHandle, e *agent.InitEvent) {
	if e.SessionID == "" {
		log.Warn("Init event without session id")
		return
	}
	h.setSession(e.SessionID)
	record := domain.NewSessionRecord(e.SessionID, prompt, workDir, c.now())
	if err := c.repo.AddOrUpdate(context.WithoutCancel(ctx), userID, record); err != nil {
		log.Error("Failed to save session record", "session_id", e.SessionID, "error", err)
	}
	c.reg.setActive(userID, e.SessionID)
	log.Info("Session initialized", "session_id", e.SessionID, "model", e.Model)
}

// setStatus records a lifecycle transition. The write outlives ctx so a run
// torn down by shutdown still reaches its terminal status.
func (c *Coordinator) setStatus(ctx context.Context, log *slog.Logger, userID, sessionID string, status domain.Status) {
	if sessionID == "" {
		return
	}
	if err := c.repo.SetStatus(context.WithoutCancel(ctx), userID, sessionID, status); err != nil {
		log.Error("Failed to update session status",
			"session_id", sessionID,
			"status", status,
			"error", err,
		)
	}
}

func (c *Coordinator) logTranscript(userID string, h *runHandle, eventType, content string) {
	c.transcript.Log(agent.ConversationLogEvent{
		UserID:     userID,
		SessionID:  h.capturedSession(),
		RunID:      h.runID,
		Channel:    "chat",
		Direction:  "outbound",
		EventType:  eventType,
		ContentRaw: content,
	})
}

// Cancel interrupts the user's run. The token is removed on every path that finds one.
func (c *Coordinator) Cancel(ctx context.Context, userID string) CancelOutcome {
	h := c.reg.current(userID)
	if h == nil {
		return CancelNothingRunning
	}
	log := c.logger.With("user_id", userID, "run_id", h.runID)

	run := h.requestCancel()
	sessionID := h.targetSession()

	var err error
	if run != nil {
		err = run.Interrupt(ctx)
	} else {
		h.cancel()
	}

	if err != nil {
		log.Error("Failed to interrupt run", "error", err)
		h.cancel()
		c.setStatus(ctx, log, userID, sessionID, domain.StatusError)
		c.reg.release(userID, h)
		return CancelFailedCleanedUp
	}

	c.setStatus(ctx, log, userID, sessionID, domain.StatusCancelled)
	c.reg.release(userID, h)
	log.Info("Run cancelled", "session_id", sessionID)
	return CancelSucceeded
}

// Resume selects a stored session. index is 1-based; 0 selects the most recent.
// It returns the selected record and its 1-based position.
func (c *Coordinator) Resume(ctx context.Context, userID string, index int) (domain.SessionRecord, int, error) {
	records := c.repo.List(ctx, userID)
	if index == 0 {
		if len(records) == 0 {
			return domain.SessionRecord{}, 0, ErrNothingToResume
		}
		index = len(records)
	}
	if index < 1 || index > len(records) {
		return domain.SessionRecord{}, 0, &IndexOutOfRangeError{Index: index, Count: len(records)}
	}

	selected := records[index-1]
	c.reg.selectSession(userID, selected.SessionID, selected.CWD)
	c.logger.Info("Session resumed", "user_id", userID, "session_id", selected.SessionID, "index", index)
	return selected, index, nil
}

// Reset clears the active session. The working directory and stored records are kept.
func (c *Coordinator) Reset(userID string) {
	c.reg.setActive(userID, "")
}

// SetWorkDir overwrites the user's working directory without validating it.
func (c *Coordinator) SetWorkDir(userID, dir string) {
	c.reg.setWorkDir(userID, dir)
}

// Status returns the user's current state.
func (c *Coordinator) Status(userID string) Status {
	return c.reg.snapshot(userID)
}

// Sessions returns the user's stored records and the active session id.
func (c *Coordinator) Sessions(ctx context.Context, userID string) ([]domain.SessionRecord, string) {
	return c.repo.List(ctx, userID), c.reg.snapshot(userID).ActiveSessionID
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// errorName names the innermost error type, e.g. "ExitError".
func errorName(err error) string {
	var pe *panicError
	if errors.As(err, &pe) {
		return "panic"
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	name := fmt.Sprintf("%T", err)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

type noTranscript struct{}

func (noTranscript) Log(agent.ConversationLogEvent) {}
func (noTranscript) Close() error                  { return nil }
