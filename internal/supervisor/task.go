// Package supervisor implements the task lifecycle state machine, the task
// group model, and the reconciliation loop that drives them.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"firestige.xyz/taskmasterd/internal/config"
)

// StateKind is the tag of a Task's state variant.
type StateKind int

const (
	StateStopped StateKind = iota
	StateStarting
	StateRunning
	StateStopping
	StateExited
	StateBackoff
	StateFatal
)

// State is a Task's current lifecycle state. At is meaningful for every
// kind except Backoff and Fatal (always zero there) and carries "stop-initiated-at"
// for Stopping, "started-at" for Starting/Running, "last-stop-time" for
// Stopped (zero means None), and "exited-at" for Exited. Msg carries the
// fatal error message.
type State struct {
	Kind StateKind
	At   time.Time
	Msg  string
}

func (s State) String() string {
	switch s.Kind {
	case StateStopped:
		if s.At.IsZero() {
			return "stopped"
		}
		return "stopped at " + formatClock(s.At)
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateExited:
		return "exited at " + formatClock(s.At)
	case StateBackoff:
		return "backoff"
	case StateFatal:
		return fmt.Sprintf("fatal (%s)", s.Msg)
	default:
		return "unknown"
	}
}

func formatClock(t time.Time) string {
	return t.Format("15:04:05")
}

// Task is one supervised OS process.
type Task struct {
	Config        config.TaskConfig
	State         State
	RestartsLeft  int
	ManualRestart bool

	cmd      *exec.Cmd
	pid      int
	exitCode *int
}

// NewTask creates a Task in STOPPED(None) with a fresh restart budget.
func NewTask(cfg config.TaskConfig) *Task {
	return &Task{
		Config:       cfg,
		State:        State{Kind: StateStopped},
		RestartsLeft: cfg.StartRetries,
	}
}

// HasChild reports whether a child process handle is currently held, which
// must hold iff State.Kind is one of {Starting, Running, Stopping}.
func (t *Task) HasChild() bool {
	return t.cmd != nil
}

// Pid returns the current child's PID, or 0 if none.
func (t *Task) Pid() int {
	return t.pid
}

func openStream(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
}

// Run spawns the configured command. It tokenizes Cmd on ASCII whitespace
// (argv[0] is the executable), redirects stdout/stderr to the configured
// files (append-create) or /dev/null, sets the working directory and
// environment, and applies the configured umask for the duration of the
// spawn so the child inherits it between fork and exec.
//
// Go's os/exec has no pre_exec hook to change umask only in the child, so
// the umask is set process-wide immediately before Start and restored
// immediately after; Start's underlying fork+exec is synchronous, so the
// window in which another goroutine could observe the wrong umask is the
// same narrow window any fork-based supervisor has before exec swaps the
// image. See DESIGN.md.
func (t *Task) Run() error {
	t.State = State{Kind: StateStarting, At: time.Now()}

	stderrFile, err := openStream(t.Config.Stderr)
	if err != nil {
		msg := fmt.Sprintf("Stderr log file: %v", err)
		t.State = State{Kind: StateFatal, Msg: msg}
		return fmt.Errorf("%s", msg)
	}
	defer stderrFile.Close()

	stdoutFile, err := openStream(t.Config.Stdout)
	if err != nil {
		msg := fmt.Sprintf("Stdout log file: %v", err)
		t.State = State{Kind: StateFatal, Msg: msg}
		return fmt.Errorf("%s", msg)
	}
	defer stdoutFile.Close()

	argv := strings.Fields(t.Config.Cmd)
	if len(argv) == 0 {
		msg := "Command: empty command line"
		t.State = State{Kind: StateFatal, Msg: msg}
		return fmt.Errorf("%s", msg)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	dir := t.Config.WorkingDir
	if dir == "" {
		dir = "."
	}
	cmd.Dir = dir
	cmd.Env = buildEnv(t.Config.Env)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.SysProcAttr = &syscall.SysProcAttr{}

	oldMask := unix.Umask(int(t.Config.Umask))
	startErr := cmd.Start()
	unix.Umask(oldMask)

	if startErr != nil {
		msg := fmt.Sprintf("Command: %v", startErr)
		t.State = State{Kind: StateFatal, Msg: msg}
		return fmt.Errorf("%s", msg)
	}

	t.cmd = cmd
	t.pid = cmd.Process.Pid
	t.exitCode = nil
	return nil
}

func buildEnv(env []config.EnvVar) []string {
	base := os.Environ()
	out := make([]string, len(base), len(base)+len(env))
	copy(out, base)
	for _, kv := range env {
		out = append(out, kv.Name+"="+kv.Value)
	}
	return out
}

var signalNumbers = map[config.StopSignal]unix.Signal{
	config.SignalTERM: unix.SIGTERM,
	config.SignalHUP:  unix.SIGHUP,
	config.SignalINT:  unix.SIGINT,
	config.SignalQUIT: unix.SIGQUIT,
	config.SignalKILL: unix.SIGKILL,
	config.SignalUSR1: unix.SIGUSR1,
	config.SignalUSR2: unix.SIGUSR2,
}

// Stop sends the configured stop signal to the child and transitions to
// Stopping. It errors if there is no child to signal.
func (t *Task) Stop() error {
	if t.cmd == nil {
		return fmt.Errorf("can't find child process, probably was already stopped or not started")
	}
	_ = unix.Kill(t.pid, signalNumbers[t.Config.StopSignal])
	t.State = State{Kind: StateStopping, At: time.Now()}
	return nil
}

// Kill sends SIGKILL and immediately transitions to Stopped, dropping the
// child handle. It errors if there is no child to kill.
func (t *Task) Kill() error {
	if t.cmd == nil {
		return fmt.Errorf("can't find child process, probably was already stopped or not started")
	}
	_ = unix.Kill(t.pid, unix.SIGKILL)
	t.State = State{Kind: StateStopped, At: time.Now()}
	t.cmd = nil
	t.pid = 0
	return nil
}

// Signal sends an arbitrary signal number to the child. It never changes
// state.
func (t *Task) Signal(name string, idx int, signum int) string {
	if t.cmd == nil {
		return fmt.Sprintf("Failed to send signal %d to %s[%d] because it is not running\n", signum, name, idx)
	}
	_ = unix.Kill(t.pid, unix.Signal(signum))
	return fmt.Sprintf("%s[%d] received signal %d\n", name, idx, signum)
}

// Reap records that the child was observed to have exited with the given
// code (nil if the code could not be determined, e.g. signal termination)
// and drops the child handle. It does not decide the resulting state; the
// reconciliation loop (reapLocked) does that.
func (t *Task) Reap(code *int) {
	t.exitCode = code
	t.cmd = nil
	t.pid = 0
}

// CanBeLaunched reports whether a manual start is meaningful from the
// current state.
func (t *Task) CanBeLaunched() bool {
	switch t.State.Kind {
	case StateStopped, StateExited, StateFatal:
		return true
	default:
		return false
	}
}

// IsPassedStartingPeriod reports whether start_time seconds have elapsed
// since startedAt.
func (t *Task) IsPassedStartingPeriod(startedAt time.Time, now time.Time) bool {
	return now.Sub(startedAt) >= time.Duration(t.Config.StartTime)*time.Second
}

// IsPassedStoppingPeriod reports whether stop_time seconds have elapsed
// since stoppedAt.
func (t *Task) IsPassedStoppingPeriod(stoppedAt time.Time, now time.Time) bool {
	return now.Sub(stoppedAt) >= time.Duration(t.Config.StopTime)*time.Second
}

// ClearLogs truncates the configured stdout/stderr files and returns one
// status line per stream (stdout, then stderr), including a line for a
// stream that has no file configured.
func (t *Task) ClearLogs(name string) string {
	return t.clearLog(name, t.Config.Stdout, "stdout") + t.clearLog(name, t.Config.Stderr, "stderr")
}

func (t *Task) clearLog(name, path, kind string) string {
	if path == "" {
		return fmt.Sprintf("%s does not have a %s log file\n", name, kind)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Sprintf("Failed to open %s log file for %s: %v\n", kind, name, err)
	}
	defer f.Close()
	if err := f.Truncate(0); err != nil {
		return fmt.Sprintf("Failed to clear %s log file for %s: %v\n", kind, name, err)
	}
	return fmt.Sprintf("Cleared %s log file for %s\n", kind, name)
}

// EnforceLogSize truncates a stream's file to zero if it exceeds
// Config.LogMaxBytes, returning a ring-log-worthy message when it did.
func (t *Task) EnforceLogSize() []string {
	if t.Config.LogMaxBytes <= 0 {
		return nil
	}
	var messages []string
	for kind, path := range map[string]string{"stdout": t.Config.Stdout, "stderr": t.Config.Stderr} {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.Size() <= t.Config.LogMaxBytes {
			continue
		}
		if f, err := os.OpenFile(path, os.O_WRONLY, 0o644); err == nil {
			f.Truncate(0)
			f.Close()
			messages = append(messages, fmt.Sprintf("truncated %s log (exceeded %d bytes)", kind, t.Config.LogMaxBytes))
		}
	}
	return messages
}

// StatusLine renders this task's status per the group-size-sensitive
// formatting rule implemented by the caller; it itself only renders the
// bare state plus the running-PID / backoff-reason suffixes.
func (t *Task) StatusLine() string {
	line := t.State.String()
	switch t.State.Kind {
	case StateRunning:
		line += fmt.Sprintf("\t\tPID %d", t.pid)
	case StateBackoff:
		line += "\tExited too quickly"
	}
	return line
}
