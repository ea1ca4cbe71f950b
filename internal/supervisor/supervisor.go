package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"firestige.xyz/taskmasterd/internal/config"
	"firestige.xyz/taskmasterd/internal/logring"
)

// Supervisor owns every task group, the deprecated-tasks drain list, and a
// handle to the Log Ring. A single coarse mutex guards all of it; the
// reconciliation loop and every intent-handling method acquire it for the
// duration of their (short, bounded) work.
type Supervisor struct {
	mu         sync.Mutex
	groups     map[string]*Group
	deprecated []*deprecatedTask
	ring       *logring.Ring
	configPath string
	socketPath string
	pidFile    string
	logFile    string
}

// New creates a Supervisor with one group per entry in the initial task
// configuration map, all tasks freshly STOPPED(None).
func New(ring *logring.Ring, configPath, socketPath, pidFile, logFile string, initial map[string]config.TaskConfig) *Supervisor {
	groups := make(map[string]*Group, len(initial))
	for name, cfg := range initial {
		groups[name] = NewGroup(cfg)
	}
	return &Supervisor{
		groups:     groups,
		ring:       ring,
		configPath: configPath,
		socketPath: socketPath,
		pidFile:    pidFile,
		logFile:    logFile,
	}
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// resolveTargets expands an optional (name, optional idx) selector into the
// concrete (group, name, indices) it designates, or an error line if the
// name is unknown or the index is out of range.
func (s *Supervisor) resolveTargets(sel *TaskSelector) (names []string, indicesByName map[string][]int, errLines []string) {
	if sel == nil {
		indicesByName = make(map[string][]int)
		for _, name := range sortedNames(s.groups) {
			names = append(names, name)
			g := s.groups[name]
			idxs := make([]int, len(g.Tasks))
			for i := range g.Tasks {
				idxs[i] = i
			}
			indicesByName[name] = idxs
		}
		return names, indicesByName, nil
	}

	g, ok := s.groups[sel.Name]
	if !ok {
		return nil, nil, []string{fmt.Sprintf("Can't find %q task\n", sel.Name)}
	}
	indicesByName = make(map[string][]int)
	if sel.Idx == nil {
		idxs := make([]int, len(g.Tasks))
		for i := range g.Tasks {
			idxs[i] = i
		}
		indicesByName[sel.Name] = idxs
	} else {
		if *sel.Idx < 0 || *sel.Idx >= len(g.Tasks) {
			return nil, nil, []string{fmt.Sprintf("Can't find %q task[%d]\n", sel.Name, *sel.Idx)}
		}
		indicesByName[sel.Name] = []int{*sel.Idx}
	}
	return []string{sel.Name}, indicesByName, nil
}

// TaskSelector names an optional single task-group (and optional index
// within it); nil means "every task".
type TaskSelector struct {
	Name string
	Idx  *int
}

// Status implements the `status` intent.
func (s *Supervisor) Status(name *string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	if name != nil {
		if _, ok := s.groups[*name]; !ok {
			return fmt.Sprintf("Can't find %q task\n", *name)
		}
		names = []string{*name}
	} else {
		names = sortedNames(s.groups)
	}

	if len(names) == 0 {
		return "No task found."
	}

	var b strings.Builder
	for _, n := range names {
		g := s.groups[n]
		if len(g.Tasks) == 1 {
			b.WriteString(fmt.Sprintf("%s\t\t%s\n", n, g.Tasks[0].StatusLine()))
			continue
		}
		b.WriteString(fmt.Sprintf("%s:\n", n))
		for i, t := range g.Tasks {
			b.WriteString(fmt.Sprintf("\t%d\t%s\n", i, t.StatusLine()))
		}
	}
	return b.String()
}

// Config implements the `config` intent: pretty JSON of a group's
// configuration, or a not-found message.
func (s *Supervisor) Config(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok {
		return fmt.Sprintf("Can't find %q task\n", name)
	}
	out, err := json.MarshalIndent(g.Config, "", "  ")
	if err != nil {
		return fmt.Sprintf("Can't serialize configuration for %q: %v\n", name, err)
	}
	return string(out) + "\n"
}

// Start implements the `start` intent.
func (s *Supervisor) Start(sel *TaskSelector) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, indices, errLines := s.resolveTargets(sel)
	if errLines != nil {
		return strings.Join(errLines, "")
	}

	var b strings.Builder
	for _, name := range names {
		g := s.groups[name]
		for _, idx := range indices[name] {
			t := g.Tasks[idx]
			if !t.CanBeLaunched() {
				b.WriteString(fmt.Sprintf("%s[%d] can't be started: already %s\n", name, idx, t.State))
				continue
			}
			t.RestartsLeft = t.Config.StartRetries
			if err := t.Run(); err != nil {
				b.WriteString(fmt.Sprintf("%s[%d]: %v\n", name, idx, err))
				continue
			}
			b.WriteString(fmt.Sprintf("%s[%d] started\n", name, idx))
		}
	}
	return b.String()
}

// Stop implements the `stop` intent: applies to tasks currently in
// {STARTING, RUNNING}.
func (s *Supervisor) Stop(sel *TaskSelector) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, indices, errLines := s.resolveTargets(sel)
	if errLines != nil {
		return strings.Join(errLines, "")
	}

	var b strings.Builder
	for _, name := range names {
		g := s.groups[name]
		for _, idx := range indices[name] {
			t := g.Tasks[idx]
			if t.State.Kind != StateStarting && t.State.Kind != StateRunning {
				b.WriteString(fmt.Sprintf("%s[%d] not running\n", name, idx))
				continue
			}
			if err := t.Stop(); err != nil {
				b.WriteString(fmt.Sprintf("%s[%d]: %v\n", name, idx, err))
				continue
			}
			b.WriteString(fmt.Sprintf("%s[%d] stopped\n", name, idx))
		}
	}
	return b.String()
}

// Restart implements the `restart` intent: requires RUNNING, stops the
// child and arms the manual-restart flag so the next tick respawns it.
func (s *Supervisor) Restart(sel *TaskSelector) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, indices, errLines := s.resolveTargets(sel)
	if errLines != nil {
		return strings.Join(errLines, "")
	}

	var b strings.Builder
	for _, name := range names {
		g := s.groups[name]
		for _, idx := range indices[name] {
			t := g.Tasks[idx]
			if t.State.Kind != StateRunning {
				b.WriteString(fmt.Sprintf("%s[%d] not running\n", name, idx))
				continue
			}
			t.RestartsLeft = t.Config.StartRetries
			t.ManualRestart = true
			if err := t.Stop(); err != nil {
				b.WriteString(fmt.Sprintf("%s[%d]: %v\n", name, idx, err))
				continue
			}
			b.WriteString(fmt.Sprintf("%s[%d] restarting\n", name, idx))
		}
	}
	return b.String()
}

// Signal implements the `signal` intent.
func (s *Supervisor) Signal(signum int, name string, idx *int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel := &TaskSelector{Name: name, Idx: idx}
	names, indices, errLines := s.resolveTargets(sel)
	if errLines != nil {
		return strings.Join(errLines, "")
	}

	var b strings.Builder
	for _, n := range names {
		g := s.groups[n]
		for _, i := range indices[n] {
			b.WriteString(g.Tasks[i].Signal(n, i, signum))
		}
	}
	return b.String()
}

// Clear implements the `clear` intent: truncates logs of the first process
// in the group.
func (s *Supervisor) Clear(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok || len(g.Tasks) == 0 {
		return fmt.Sprintf("Can't find %q task\n", name)
	}
	return g.Tasks[0].ClearLogs(name)
}

// TailTarget is the information the Control Router needs to stream a log
// file, returned by the Tail intent.
type TailTarget struct {
	Filename string
}

// Tail implements the `tail` intent: resolves the configured file for the
// requested stream of the first process in the group.
func (s *Supervisor) Tail(name string, stdout bool) (TailTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok || len(g.Tasks) == 0 {
		return TailTarget{}, fmt.Errorf("Can't find %q task", name)
	}
	path := g.Tasks[0].Config.Stderr
	if stdout {
		path = g.Tasks[0].Config.Stdout
	}
	if path == "" {
		return TailTarget{}, fmt.Errorf("%s does not have that log file configured", name)
	}
	return TailTarget{Filename: path}, nil
}

// Ring exposes the Log Ring handle for maintail streaming.
func (s *Supervisor) Ring() *logring.Ring {
	return s.ring
}

// HTTPLogging implements the `http_logging` intent.
func (s *Supervisor) HTTPLogging(port *int) string {
	if port != nil {
		s.ring.EnableHTTP(*port)
		return fmt.Sprintf("HTTP logging enabled on port %d\n", *port)
	}
	s.ring.DisableHTTP()
	return "HTTP logging disabled\n"
}

// Update implements the `update` intent: reloads the configuration file (or
// the given path) and diffs it against the live groups.
func (s *Supervisor) Update(path *string) string {
	target := s.configPath
	if path != nil {
		target = *path
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return fmt.Sprintf("Configuration error: <document>: can't read %s: %v", target, err)
	}
	newConfigs, err := config.ParseSpecFile(data)
	if err != nil {
		return err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPath = target

	var added, updated, deleted []string

	for _, name := range sortedNames(newConfigs) {
		newCfg := newConfigs[name]
		if g, ok := s.groups[name]; ok {
			if g.Config.Equal(newCfg) {
				continue
			}
			for _, t := range g.Tasks {
				s.deprecated = append(s.deprecated, &deprecatedTask{name: name, task: t})
			}
			s.groups[name] = NewGroup(newCfg)
			updated = append(updated, name)
		} else {
			s.groups[name] = NewGroup(newCfg)
			added = append(added, name)
		}
	}

	for _, name := range sortedNames(s.groups) {
		if _, ok := newConfigs[name]; ok {
			continue
		}
		g := s.groups[name]
		for _, t := range g.Tasks {
			s.deprecated = append(s.deprecated, &deprecatedTask{name: name, task: t})
		}
		delete(s.groups, name)
		deleted = append(deleted, name)
	}

	var b strings.Builder
	for _, n := range added {
		b.WriteString(fmt.Sprintf("%s: added\n", n))
	}
	for _, n := range updated {
		b.WriteString(fmt.Sprintf("%s: updated\n", n))
	}
	for _, n := range deleted {
		b.WriteString(fmt.Sprintf("%s: deleted\n", n))
	}
	if b.Len() == 0 {
		return "Already up to date."
	}
	return b.String()
}

// Shutdown kills every live child in both the live and deprecated sets and
// removes the socket/PID/log files. It does not exit the process; the
// caller (the CLI entry point) does that after this returns.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range sortedNames(s.groups) {
		for _, t := range s.groups[name].Tasks {
			if t.HasChild() {
				t.Kill()
			}
		}
	}
	for _, dt := range s.deprecated {
		if dt.task.HasChild() {
			dt.task.Kill()
		}
	}

	os.Remove(s.socketPath)
	os.Remove(s.pidFile)
	os.Remove(s.logFile)
}
