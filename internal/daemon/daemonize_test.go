package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestWriteAndRemovePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.pid")

	if err := WritePIDFile(path); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading pid file: %v", err)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		t.Fatalf("pid file contents %q not an integer: %v", data, err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected pid file to be removed, stat err=%v", err)
	}
}

func TestRemovePIDFileMissingIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.pid")
	if err := RemovePIDFile(path); err != nil {
		t.Errorf("RemovePIDFile on a missing file should be a no-op, got %v", err)
	}
}
