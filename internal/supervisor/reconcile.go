package supervisor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"firestige.xyz/taskmasterd/internal/logring"
)

// TickInterval is the reconciliation loop's sleep between iterations.
const TickInterval = 100 * time.Millisecond

// Reconcile runs the monitor loop until ctx is cancelled. It is meant to be
// run in its own goroutine; it owns no state beyond a reference to the
// Supervisor's inner data, which it locks for the duration of each tick.
func (s *Supervisor) Reconcile(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Supervisor) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	s.drainDeprecatedLocked(now)

	for _, name := range sortedNames(s.groups) {
		g := s.groups[name]
		for _, t := range g.Tasks {
			for _, msg := range t.EnforceLogSize() {
				s.ring.Log(logring.TagMonitor, fmt.Sprintf("%s: %s", name, msg))
			}
		}
	}

	for _, name := range sortedNames(s.groups) {
		g := s.groups[name]
		for idx, t := range g.Tasks {
			s.applyTimedTransitionLocked(name, idx, t, now)
		}
	}

	for _, name := range sortedNames(s.groups) {
		g := s.groups[name]
		for idx, t := range g.Tasks {
			s.reapLocked(name, idx, t, now)
		}
	}

	for _, name := range sortedNames(s.groups) {
		g := s.groups[name]
		for idx, t := range g.Tasks {
			if t.State.Kind == StateStopped && t.State.At.IsZero() && !t.HasChild() && t.Config.AutoStart {
				if err := t.Run(); err != nil {
					s.ring.Log(logring.TagMonitorThread, fmt.Sprintf("%s[%d]: %v", name, idx, err))
				} else {
					s.ring.Log(logring.TagMonitorThread, fmt.Sprintf("%s[%d] autostarted", name, idx))
				}
			}
		}
	}
}

// reapNonBlocking checks, without blocking, whether pid has exited. It
// returns exited=false if the child is still alive or the wait call could
// not observe it yet.
func reapNonBlocking(pid int) (exited bool, code *int) {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	if err != nil || wpid != pid {
		return false, nil
	}
	if ws.Exited() {
		c := ws.ExitStatus()
		return true, &c
	}
	return true, nil
}

func (s *Supervisor) applyTimedTransitionLocked(name string, idx int, t *Task, now time.Time) {
	switch t.State.Kind {
	case StateStarting:
		if t.IsPassedStartingPeriod(t.State.At, now) {
			t.State = State{Kind: StateRunning, At: t.State.At}
			t.RestartsLeft = t.Config.StartRetries
			s.ring.Log(logring.TagMonitor, fmt.Sprintf("%s[%d] is running now", name, idx))
		}
	case StateStopping:
		if t.IsPassedStoppingPeriod(t.State.At, now) {
			if err := t.Kill(); err == nil {
				s.ring.Log(logring.TagMonitor, fmt.Sprintf("%s[%d] stop_time elapsed, killed", name, idx))
			}
		}
	case StateStopped:
		if t.ManualRestart {
			t.ManualRestart = false
			t.RestartsLeft = t.Config.StartRetries
			if err := t.Run(); err != nil {
				s.ring.Log(logring.TagMonitor, fmt.Sprintf("%s[%d]: %v", name, idx, err))
			}
		}
	}
}

func (s *Supervisor) reapLocked(name string, idx int, t *Task, now time.Time) {
	if !t.HasChild() {
		return
	}
	exited, code := reapNonBlocking(t.Pid())
	if !exited {
		return
	}
	priorKind := t.State.Kind
	stoppingAt := t.State.At
	t.Reap(code)

	switch priorKind {
	case StateStarting:
		if t.RestartsLeft == 0 {
			t.State = State{Kind: StateFatal, Msg: "exited too quickly"}
			s.ring.Log(logring.TagMonitor, fmt.Sprintf("%s[%d] exited too quickly", name, idx))
		} else {
			t.RestartsLeft--
			if err := t.Run(); err != nil {
				s.ring.Log(logring.TagMonitor, fmt.Sprintf("%s[%d]: %v", name, idx, err))
			}
		}
	case StateRunning:
		switch t.Config.AutoRestart {
		case "always":
			if err := t.Run(); err != nil {
				s.ring.Log(logring.TagMonitor, fmt.Sprintf("%s[%d]: %v", name, idx, err))
			}
		case "never":
			t.State = State{Kind: StateExited, At: now}
		default: // "unexpected"
			if code != nil && containsInt(t.Config.ExitCodes, *code) {
				t.State = State{Kind: StateExited, At: now}
			} else {
				if err := t.Run(); err != nil {
					s.ring.Log(logring.TagMonitor, fmt.Sprintf("%s[%d]: %v", name, idx, err))
				}
			}
		}
	case StateStopping:
		t.State = State{Kind: StateStopped, At: stoppingAt}
	}
}

func containsInt(set []int, v int) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

// drainDeprecatedLocked processes step 1 of the reconciliation tick: tasks
// with no child are forgotten, tasks past stop_time in STOPPING are
// SIGKILLed, and everything else alive is politely stopped.
func (s *Supervisor) drainDeprecatedLocked(now time.Time) {
	kept := s.deprecated[:0]
	for _, dt := range s.deprecated {
		t := dt.task
		if t.HasChild() {
			if exited, code := reapNonBlocking(t.Pid()); exited {
				t.Reap(code)
			}
		}
		if !t.HasChild() {
			continue
		}
		switch t.State.Kind {
		case StateStopping:
			if t.IsPassedStoppingPeriod(t.State.At, now) {
				t.Kill()
			}
		case StateStarting, StateRunning:
			t.Stop()
		}
		kept = append(kept, dt)
	}
	s.deprecated = kept
}
