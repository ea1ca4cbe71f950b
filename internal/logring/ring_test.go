package logring

import (
	"path/filepath"
	"strings"
	"testing"
)

func openTestRing(t *testing.T) *Ring {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ring.log")
	ring, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ring.Close() })
	return ring
}

func TestLogAppearsInHistory(t *testing.T) {
	ring := openTestRing(t)
	ring.Log(TagMonitor, "hello world")

	hist := ring.History(nil)
	if len(hist) != 1 {
		t.Fatalf("len(History) = %d, want 1", len(hist))
	}
	if !strings.Contains(hist[0], "hello world") {
		t.Errorf("history entry = %q, want to contain message", hist[0])
	}
	if !strings.Contains(hist[0], "["+TagMonitor+"]") {
		t.Errorf("history entry = %q, want to contain tag", hist[0])
	}
}

func TestResponderLinesAreNotKeptInRing(t *testing.T) {
	ring := openTestRing(t)
	ring.Log(TagResponder, "per-request chatter")
	ring.Log(TagMonitor, "kept entry")

	hist := ring.History(nil)
	if len(hist) != 1 {
		t.Fatalf("len(History) = %d, want 1 (responder lines excluded)", len(hist))
	}
	if strings.Contains(hist[0], "per-request chatter") {
		t.Errorf("responder-tagged line leaked into the ring: %q", hist[0])
	}
}

func TestHistoryLimit(t *testing.T) {
	ring := openTestRing(t)
	for i := 0; i < 5; i++ {
		ring.Log(TagMonitor, "line")
	}
	n := 2
	hist := ring.History(&n)
	if len(hist) != 2 {
		t.Fatalf("len(History(2)) = %d, want 2", len(hist))
	}
}

func TestSinceResumesAfterIndex(t *testing.T) {
	ring := openTestRing(t)
	ring.Log(TagMonitor, "one")
	_, lastIdx := ring.Snapshot(nil)

	ring.Log(TagMonitor, "two")
	ring.Log(TagMonitor, "three")

	newLines, newIdx := ring.Since(lastIdx)
	if len(newLines) != 2 {
		t.Fatalf("len(Since) = %d, want 2", len(newLines))
	}
	if !strings.Contains(newLines[0].Message, "two") || !strings.Contains(newLines[1].Message, "three") {
		t.Errorf("Since returned unexpected lines: %+v", newLines)
	}
	if newIdx <= lastIdx {
		t.Errorf("newIdx = %d, want > %d", newIdx, lastIdx)
	}
}

func TestRingTrimsPastCapacity(t *testing.T) {
	ring := openTestRing(t)
	for i := 0; i < bufferSize+1; i++ {
		ring.Log(TagMonitor, "line")
	}
	hist := ring.History(nil)
	if len(hist) > MaxMessages {
		t.Errorf("len(History) = %d, want <= %d after trim", len(hist), MaxMessages)
	}
}

func TestHTTPLoggingStatusToggle(t *testing.T) {
	ring := openTestRing(t)
	if enabled, _ := ring.HTTPStatus(); enabled {
		t.Fatalf("expected HTTP sink to start disabled")
	}
	ring.EnableHTTP(65535) // nothing listens there; EnableHTTP itself must not block or panic
	if enabled, port := ring.HTTPStatus(); !enabled || port != 65535 {
		t.Errorf("HTTPStatus = (%v, %d), want (true, 65535)", enabled, port)
	}
	ring.DisableHTTP()
	if enabled, _ := ring.HTTPStatus(); enabled {
		t.Errorf("expected HTTP sink to be disabled after DisableHTTP")
	}
}
