package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/taskmasterd/internal/config"
	"firestige.xyz/taskmasterd/internal/logring"
)

func newTestRing(t *testing.T) *logring.Ring {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ring.log")
	ring, err := logring.Open(path)
	if err != nil {
		t.Fatalf("logring.Open: %v", err)
	}
	t.Cleanup(func() { ring.Close() })
	return ring
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %v", timeout)
	}
}

// Mirrors scenario 1 of the specification: a fast-failing autostart
// command exhausts its restart budget and lands in FATAL.
func TestAutostartFastFailingCommandReachesFatal(t *testing.T) {
	ring := newTestRing(t)
	cfg := baseConfig("/bin/false")
	cfg.StartRetries = 2
	cfg.StartTime = 1
	cfg.AutoRestart = config.AutoRestartUnexpected
	cfg.ExitCodes = []int{0}
	cfg.AutoStart = true

	sup := New(ring, "", "", "", "", map[string]config.TaskConfig{"bad": cfg})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			sup.tick()
			time.Sleep(20 * time.Millisecond)
		}
	}()

	waitFor(t, 4*time.Second, func() bool {
		status := sup.Status(nil)
		return contains(status, "fatal (exited too quickly)")
	})
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

// Mirrors scenario 2: a graceful stop that the child ignores escalates to
// SIGKILL once stop_time elapses.
func TestStopEscalatesToKillOnDeadline(t *testing.T) {
	ring := newTestRing(t)
	cfg := baseConfig("/bin/sleep 3600")
	cfg.StopSignal = config.SignalHUP // sleep(1) ignores SIGHUP by default
	cfg.StopTime = 1
	cfg.AutoStart = false

	sup := New(ring, "", "", "", "", map[string]config.TaskConfig{"sleep": cfg})
	name := "sleep"
	sel := &TaskSelector{Name: name}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			sup.tick()
			time.Sleep(20 * time.Millisecond)
		}
	}()

	sup.Start(sel)
	waitFor(t, 3*time.Second, func() bool {
		return contains(sup.Status(nil), "running")
	})

	sup.Stop(sel)

	waitFor(t, 3*time.Second, func() bool {
		return contains(sup.Status(nil), "stopped at")
	})
}

// Mirrors scenario 3/4: hot reload preserves unchanged tasks and replaces
// changed ones, moving the old child to the deprecated list.
func TestUpdatePreservesUnchangedReplacesChanged(t *testing.T) {
	ring := newTestRing(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yml")

	original := "a:\n  cmd: /bin/sleep 100\n  auto_start: false\nb:\n  cmd: /bin/sleep 100\n  auto_start: false\n"
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	taskConfigs, err := config.ParseSpecFile([]byte(original))
	if err != nil {
		t.Fatalf("ParseSpecFile: %v", err)
	}
	sup := New(ring, path, "", "", "", taskConfigs)

	if resp := sup.Update(nil); resp != "Already up to date." {
		t.Fatalf("Update(same content) = %q, want already up to date", resp)
	}

	changed := "a:\n  cmd: /bin/sleep 200\n  auto_start: false\nb:\n  cmd: /bin/sleep 100\n  auto_start: false\n"
	if err := os.WriteFile(path, []byte(changed), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	resp := sup.Update(nil)
	if !contains(resp, "a: updated") {
		t.Fatalf("Update(changed) = %q, want to mention a: updated", resp)
	}
	if contains(resp, "b:") {
		t.Fatalf("Update(changed) = %q, should not mention unchanged b", resp)
	}
}
