package supervisor

import (
	"strings"
	"testing"

	"firestige.xyz/taskmasterd/internal/config"
)

func TestNewGroupSizedToNumProcs(t *testing.T) {
	cfg := baseConfig("/bin/true")
	cfg.NumProcs = 3
	g := NewGroup(cfg)
	if len(g.Tasks) != 3 {
		t.Fatalf("len(Tasks) = %d, want 3", len(g.Tasks))
	}
	for i, task := range g.Tasks {
		if task.State.Kind != StateStopped {
			t.Errorf("task[%d].State.Kind = %v, want StateStopped", i, task.State.Kind)
		}
		if !task.Config.Equal(g.Config) {
			t.Errorf("task[%d].Config != group.Config", i)
		}
	}
}

func TestStatusFormattingSingleVsMultiProc(t *testing.T) {
	ring := newTestRing(t)

	single := baseConfig("/bin/true")
	single.NumProcs = 1
	single.AutoStart = false

	multi := baseConfig("/bin/true")
	multi.NumProcs = 2
	multi.AutoStart = false

	sup := New(ring, "", "", "", "", map[string]config.TaskConfig{
		"single": single,
		"multi":  multi,
	})

	status := sup.Status(nil)
	singleLine := status[strings.Index(status, "single"):]
	if idx := strings.Index(singleLine, "\n"); idx >= 0 {
		singleLine = singleLine[:idx]
	}
	if !strings.HasPrefix(singleLine, "single\t\t") {
		t.Errorf("single-proc status = %q, want one line starting with the name", singleLine)
	}

	if !strings.Contains(status, "multi:\n\t0\t") || !strings.Contains(status, "\t1\t") {
		t.Errorf("multi-proc status = %q, want an indented numbered block", status)
	}
}

func TestStatusEmptyGroupsReportsNoTaskFound(t *testing.T) {
	ring := newTestRing(t)
	sup := New(ring, "", "", "", "", map[string]config.TaskConfig{})
	if got := sup.Status(nil); got != "No task found." {
		t.Errorf("Status(nil) on empty supervisor = %q, want %q", got, "No task found.")
	}
}
