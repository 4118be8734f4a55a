// Package session implements the Session Supervisor: a thin layer over
// the tmux wrapper that tracks per-session activity/idleness, mediates
// literal keystroke injection, and exposes hibernate/wake for agents
// whose underlying process is not currently running.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aimaestro/meshhost/internal/eventbus"
	"github.com/aimaestro/meshhost/internal/tmux"
)

// IdleThreshold is the "no recorded activity within" window per
// spec.md §4.D.
const IdleThreshold = 30 * time.Second

// ActivityWindow bounds how recently a pane must have produced output to
// count as "active" rather than merely "not idle" for status-stream
// purposes.
const ActivityWindow = 10 * time.Second

// Status is the tri-state activity status fed to the UI status stream.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
	StatusIdle    Status = "idle"
)

// Supervisor tracks activity for every session on this host and mediates
// command injection through the tmux wrapper. Activity timestamps are an
// in-process singleton map, per spec.md §9's "globals" guidance: owned
// here, nowhere else.
type Supervisor struct {
	tm      *tmux.Tmux
	dataDir string
	bus     *eventbus.Bus

	mu       sync.Mutex
	activity map[string]time.Time
}

// New creates a Supervisor backed by tm, publishing activity transitions
// on bus (may be nil to disable the status stream).
func New(tm *tmux.Tmux, dataDir string, bus *eventbus.Bus) *Supervisor {
	return &Supervisor{tm: tm, dataDir: dataDir, bus: bus, activity: map[string]time.Time{}}
}

// SessionExists reports whether tmux has a live session by this name.
func (s *Supervisor) SessionExists(ctx context.Context, session string) bool {
	return s.tm.SessionExists(ctx, session)
}

// InCopyMode reports whether the session's pane is in tmux copy-mode,
// where key injection would be interpreted as scrollback navigation
// instead of being typed.
func (s *Supervisor) InCopyMode(ctx context.Context, session string) bool {
	return s.tm.IsPaneInMode(ctx, session)
}

// CancelCopyMode exits copy-mode if active and waits briefly for it to
// take effect before the caller proceeds to inject keys.
func (s *Supervisor) CancelCopyMode(ctx context.Context, session string) {
	if s.InCopyMode(ctx, session) {
		s.tm.CancelCopyMode(ctx, session)
	}
}

// RecordActivity stamps session's last-activity time to now and
// publishes an activity status update.
func (s *Supervisor) RecordActivity(session string) {
	s.mu.Lock()
	s.activity[session] = time.Now()
	s.mu.Unlock()
	s.publish(session, StatusActive)
}

// IsIdle reports whether session has had no recorded activity within
// IdleThreshold. A session with no recorded activity at all is idle.
func (s *Supervisor) IsIdle(session string) bool {
	s.mu.Lock()
	last, ok := s.activity[session]
	s.mu.Unlock()
	if !ok {
		return true
	}
	return time.Since(last) > IdleThreshold
}

// TimeSinceActivity returns how long it has been since session last
// recorded activity, or a zero duration (unbounded) marker if never.
func (s *Supervisor) TimeSinceActivity(session string) (time.Duration, bool) {
	s.mu.Lock()
	last, ok := s.activity[session]
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	return time.Since(last), true
}

// hookPath is where a controlled process drops a marker file to signal
// it is blocked waiting on human/agent input.
func (s *Supervisor) hookPath(session string) string {
	return filepath.Join(s.dataDir, "hooks", session+".waiting")
}

// IsWaiting reports whether the controlled process has dropped a
// waiting-for-input hook file for session.
func (s *Supervisor) IsWaiting(session string) bool {
	_, err := os.Stat(s.hookPath(session))
	return err == nil
}

// ActivityStatus computes the tri-state status for session: waiting if a
// hook file is present, active if activity was recorded within
// ActivityWindow, idle otherwise.
func (s *Supervisor) ActivityStatus(session string) Status {
	if s.IsWaiting(session) {
		return StatusWaiting
	}
	s.mu.Lock()
	last, ok := s.activity[session]
	s.mu.Unlock()
	if ok && time.Since(last) <= ActivityWindow {
		return StatusActive
	}
	return StatusIdle
}

func (s *Supervisor) publish(session string, status Status) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type:        eventbus.EventStatusUpdate,
		SessionName: session,
		Status:      string(status),
		Timestamp:   time.Now(),
	})
}

// ErrNotIdle is returned by SendCommand when requireIdle is set and the
// session is not idle.
type ErrNotIdle struct {
	TimeSinceActivity time.Duration
	IdleThreshold     time.Duration
}

func (e *ErrNotIdle) Error() string {
	return fmt.Sprintf("session is not idle (active %s ago, threshold %s)", e.TimeSinceActivity, e.IdleThreshold)
}

// SendCommand injects command into session, optionally requiring the
// session be idle first and optionally submitting with Enter. Copy-mode
// is cancelled first if active. The literal text and Enter key are
// delivered as one atomic tmux invocation when addNewline is true, so a
// concurrent sender cannot interleave keystrokes between them.
func (s *Supervisor) SendCommand(ctx context.Context, session, command string, requireIdle, addNewline bool) error {
	if requireIdle && !s.IsIdle(session) {
		elapsed, _ := s.TimeSinceActivity(session)
		return &ErrNotIdle{TimeSinceActivity: elapsed, IdleThreshold: IdleThreshold}
	}

	s.CancelCopyMode(ctx, session)

	var err error
	if addNewline {
		err = s.tm.SendKeysLiteralWithEnter(ctx, session, command)
	} else {
		err = s.tm.SendKeysLiteral(ctx, session, command)
	}
	if err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	s.RecordActivity(session)
	return nil
}

// KillSession tears down the tmux session outright.
func (s *Supervisor) KillSession(ctx context.Context, session string) error {
	s.mu.Lock()
	delete(s.activity, session)
	s.mu.Unlock()
	return s.tm.KillSession(ctx, session)
}

// Hibernate terminates the underlying program (but not necessarily the
// tmux session shell) so the agent stops consuming resources while
// remaining registered.
func (s *Supervisor) Hibernate(ctx context.Context, session string) error {
	return s.tm.KillProgramGroup(ctx, session)
}

// Spawner starts a new program in an existing (or freshly created) tmux
// session; spawning itself is out of scope for this core (spec.md §4.D)
// but Wake needs a concrete callback to hand the revived agent off to.
type Spawner func(ctx context.Context, session, workingDirectory, program string, args []string) error

// Wake restarts program in session via spawn, then records activity so
// the freshly woken agent isn't immediately considered idle-timed-out.
func (s *Supervisor) Wake(ctx context.Context, session, workingDirectory, program string, args []string, spawn Spawner) error {
	if err := spawn(ctx, session, workingDirectory, program, args); err != nil {
		return fmt.Errorf("waking session: %w", err)
	}
	s.RecordActivity(session)
	return nil
}
