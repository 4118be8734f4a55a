// Package tmux wraps the tmux CLI for the session supervisor: pane
// capture, literal key injection, copy-mode detection, and process-group
// teardown of a session's running program.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Tmux is a thin wrapper over the tmux CLI, scoped to one tmux server.
type Tmux struct {
	// Bin is the tmux executable path; defaults to "tmux" when empty.
	Bin string
}

func (t *Tmux) bin() string {
	if t.Bin != "" {
		return t.Bin
	}
	return "tmux"
}

func (t *Tmux) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, t.bin(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// SessionExists reports whether a tmux session by this name exists.
func (t *Tmux) SessionExists(ctx context.Context, session string) bool {
	_, err := t.run(ctx, "has-session", "-t", session)
	return err == nil
}

// CapturePane captures the last n lines of a pane.
func (t *Tmux) CapturePane(ctx context.Context, session string, lines int) (string, error) {
	out, err := t.run(ctx, "capture-pane", "-t", session, "-p", "-S", "-"+strconv.Itoa(lines))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// CapturePaneAll captures the full scrollback of a pane.
func (t *Tmux) CapturePaneAll(ctx context.Context, session string) (string, error) {
	out, err := t.run(ctx, "capture-pane", "-t", session, "-p", "-S", "-")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// IsPaneInMode reports whether the pane is in a blocking mode (copy-mode,
// etc.) where key injection would be swallowed rather than typed.
func (t *Tmux) IsPaneInMode(ctx context.Context, session string) bool {
	out, err := t.run(ctx, "display-message", "-p", "-t", session, "#{pane_in_mode}")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "1"
}

// CancelCopyMode sends 'q' to exit copy-mode and waits briefly for it to
// take effect.
func (t *Tmux) CancelCopyMode(ctx context.Context, session string) {
	_ = t.SendKeysRaw(ctx, session, "q")
	time.Sleep(50 * time.Millisecond)
}

// SendKeysRaw sends a tmux key name (e.g. "C-c", "Enter") to the pane.
func (t *Tmux) SendKeysRaw(ctx context.Context, session, key string) error {
	_, err := t.run(ctx, "send-keys", "-t", session, key)
	return err
}

// SendKeysLiteral injects text into the pane with no shell/tmux key-name
// interpretation, so arbitrary message bodies are typed verbatim.
func (t *Tmux) SendKeysLiteral(ctx context.Context, session, text string) error {
	_, err := t.run(ctx, "send-keys", "-l", "-t", session, text)
	return err
}

// SendKeysLiteralWithEnter delivers literal text and the Enter key as one
// tmux invocation so a concurrent sender cannot interleave keystrokes
// between the text and the newline that submits it.
func (t *Tmux) SendKeysLiteralWithEnter(ctx context.Context, session, text string) error {
	_, err := t.run(ctx, "send-keys", "-l", "-t", session, text, ";", "send-keys", "-t", session, "Enter")
	return err
}

// KillSession terminates a tmux session outright.
func (t *Tmux) KillSession(ctx context.Context, session string) error {
	_, err := t.run(ctx, "kill-session", "-t", session)
	return err
}

// PanePID returns the PID of the process running in the session's pane.
func (t *Tmux) PanePID(ctx context.Context, session string) (int, error) {
	out, err := t.run(ctx, "display-message", "-p", "-t", session, "#{pane_pid}")
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("parsing pane pid: %w", err)
	}
	return pid, nil
}

// KillProgramGroup terminates the process group rooted at the session's
// pane process: SIGTERM, a grace period, then SIGKILL.
func (t *Tmux) KillProgramGroup(ctx context.Context, session string) error {
	pid, err := t.PanePID(ctx, session)
	if err != nil {
		return err
	}
	killProcessGroup(pid)
	return nil
}

var (
	ErrPaneInMode       = errors.New("tmux: pane is in copy-mode")
	ErrPastePlaceholder = errors.New("tmux: pane shows an in-progress large paste")
	ErrNudgeNotFound    = errors.New("tmux: injected text did not appear in the pane")
	ErrMaxRetries       = errors.New("tmux: delivery retries exhausted")
)
