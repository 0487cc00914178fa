package coordinator

import (
	"context"
	"sync"

	"github.com/ashureev/claudebot/internal/agent"
)

// runHandle is the per-user mutual-exclusion token. It is registered before the
// backend is started; the live Run is attached once Start returns.
type runHandle struct {
	runID    string
	resumeID string
	cancel   context.CancelFunc

	mu              sync.Mutex
	run             agent.Run
	sessionID       string
	cancelRequested bool
}

// attach records the live run. It reports false when a cancel arrived first.
func (h *runHandle) attach(run agent.Run) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.run = run
	return !h.cancelRequested
}

// requestCancel marks the handle cancelled and returns the attached run, if any.
func (h *runHandle) requestCancel() agent.Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelRequested = true
	return h.run
}

func (h *runHandle) cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelRequested
}

func (h *runHandle) setSession(id string) {
	h.mu.Lock()
	h.sessionID = id
	h.mu.Unlock()
}

func (h *runHandle) capturedSession() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

// targetSession returns the id captured from the init event, or the resume id
// when the run has not initialized yet.
func (h *runHandle) targetSession() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessionID != "" {
		return h.sessionID
	}
	return h.resumeID
}

type userState struct {
	activeSessionID string
	workDir         string
	running         *runHandle
}

// registry owns all per-user in-memory state. Every method is a single
// critical section; no I/O happens under the lock.
type registry struct {
	mu    sync.Mutex
	users map[string]*userState
}

func newRegistry() *registry {
	return &registry{users: make(map[string]*userState)}
}

func (r *registry) stateLocked(userID string) *userState {
	st, ok := r.users[userID]
	if !ok {
		st = &userState{}
		r.users[userID] = st
	}
	return st
}

// acquire registers h as the user's token when none is held. It returns the
// resume id and working directory observed in the same critical section.
func (r *registry) acquire(userID string, h *runHandle) (resumeID, workDir string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stateLocked(userID)
	if st.running != nil {
		return "", "", false
	}
	st.running = h
	return st.activeSessionID, st.workDir, true
}

// release removes the token only if it is still h.
func (r *registry) release(userID string, h *runHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.users[userID]
	if !ok || st.running != h {
		return false
	}
	st.running = nil
	return true
}

func (r *registry) current(userID string) *runHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.users[userID]; ok {
		return st.running
	}
	return nil
}

func (r *registry) setActive(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateLocked(userID).activeSessionID = sessionID
}

func (r *registry) setWorkDir(userID, dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateLocked(userID).workDir = dir
}

// selectSession points the user at a stored session, adopting its cwd when set.
func (r *registry) selectSession(userID, sessionID, cwd string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stateLocked(userID)
	st.activeSessionID = sessionID
	if cwd != "" {
		st.workDir = cwd
	}
}

func (r *registry) snapshot(userID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.users[userID]
	if !ok {
		return Status{}
	}
	return Status{
		ActiveSessionID: st.activeSessionID,
		WorkDir:         st.workDir,
		Running:         st.running != nil,
	}
}
