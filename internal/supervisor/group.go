package supervisor

import "firestige.xyz/taskmasterd/internal/config"

// Group is an ordered collection of identically configured Tasks sharing
// one Configuration.
type Group struct {
	Config config.TaskConfig
	Tasks  []*Task
}

// NewGroup builds a group of NumProcs fresh Tasks, all STOPPED(None).
func NewGroup(cfg config.TaskConfig) *Group {
	tasks := make([]*Task, cfg.NumProcs)
	for i := range tasks {
		tasks[i] = NewTask(cfg)
	}
	return &Group{Config: cfg, Tasks: tasks}
}

// deprecatedTask is one Task pulled out of a live group by a hot reload,
// still draining (being stopped, or already dead but not yet forgotten).
type deprecatedTask struct {
	name string
	task *Task
}
