// Package config loads the declarative task specification and the
// daemon-level settings that sit alongside it.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"firestige.xyz/taskmasterd/internal/log"
)

// AutoRestart is the restart policy applied when a task's child exits.
type AutoRestart string

const (
	AutoRestartAlways     AutoRestart = "always"
	AutoRestartNever      AutoRestart = "never"
	AutoRestartUnexpected AutoRestart = "unexpected"
)

// StopSignal is one of the signals a task may be asked to stop with.
type StopSignal string

const (
	SignalTERM StopSignal = "TERM"
	SignalHUP  StopSignal = "HUP"
	SignalINT  StopSignal = "INT"
	SignalQUIT StopSignal = "QUIT"
	SignalKILL StopSignal = "KILL"
	SignalUSR1 StopSignal = "USR1"
	SignalUSR2 StopSignal = "USR2"
)

var validStopSignals = map[StopSignal]bool{
	SignalTERM: true, SignalHUP: true, SignalINT: true, SignalQUIT: true,
	SignalKILL: true, SignalUSR1: true, SignalUSR2: true,
}

// TaskConfig is one task's fully resolved, validated configuration.
//
// Two Tasks in the same group always compare equal on this type; a reload
// that produces an unequal TaskConfig for a name replaces the whole group.
type TaskConfig struct {
	Cmd          string      `json:"cmd"`
	NumProcs     int         `json:"num_procs"`
	Umask        uint32      `json:"umask"`
	WorkingDir   string      `json:"working_dir"` // "" means "."
	AutoStart    bool        `json:"auto_start"`
	AutoRestart  AutoRestart `json:"auto_restart"`
	ExitCodes    []int       `json:"exit_codes"`
	StartRetries int         `json:"start_retries"`
	StartTime    int         `json:"start_time"`
	StopSignal   StopSignal  `json:"stop_signal"`
	StopTime     int         `json:"stop_time"`
	Stdout       string      `json:"stdout"` // "" means no redirection (/dev/null)
	Stderr       string      `json:"stderr"`
	Env          []EnvVar    `json:"env"` // ordered by name for determinism
	LogMaxBytes  int64       `json:"log_max_bytes"`
}

// EnvVar is one name=value pair, kept as a slice instead of a map so task
// configurations remain trivially comparable and deterministically ordered.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Equal reports whether two configurations are identical in every field
// that governs how a task group is run, per the "whole group replaces on any
// inequality" rule.
func (c TaskConfig) Equal(o TaskConfig) bool {
	if c.Cmd != o.Cmd || c.NumProcs != o.NumProcs || c.Umask != o.Umask ||
		c.WorkingDir != o.WorkingDir || c.AutoStart != o.AutoStart ||
		c.AutoRestart != o.AutoRestart || c.StartRetries != o.StartRetries ||
		c.StartTime != o.StartTime || c.StopSignal != o.StopSignal ||
		c.StopTime != o.StopTime || c.Stdout != o.Stdout || c.Stderr != o.Stderr ||
		c.LogMaxBytes != o.LogMaxBytes {
		return false
	}
	if len(c.ExitCodes) != len(o.ExitCodes) {
		return false
	}
	for i := range c.ExitCodes {
		if c.ExitCodes[i] != o.ExitCodes[i] {
			return false
		}
	}
	if len(c.Env) != len(o.Env) {
		return false
	}
	for i := range c.Env {
		if c.Env[i] != o.Env[i] {
			return false
		}
	}
	return true
}

// rawTaskConfig mirrors the YAML shape exactly (including the trailing
// underscore-free field names expected in the file) so unknown fields can be
// detected with yaml.Node strictness before defaulting.
type rawTaskConfig struct {
	Cmd          *string           `yaml:"cmd"`
	NumProcs     *int              `yaml:"num_procs"`
	Umask        *string           `yaml:"umask"`
	WorkingDir   *string           `yaml:"working_dir"`
	AutoStart    *bool             `yaml:"auto_start"`
	AutoRestart  *string           `yaml:"auto_restart"`
	ExitCodes    []int             `yaml:"exit_codes"`
	StartRetries *int              `yaml:"start_retries"`
	StartTime    *int              `yaml:"start_time"`
	StopSignal   *string           `yaml:"stop_signal"`
	StopTime     *int              `yaml:"stop_time"`
	Stdout       *string           `yaml:"stdout"`
	Stderr       *string           `yaml:"stderr"`
	Env          map[string]string `yaml:"env"`
	LogMaxBytes  *int64            `yaml:"log_max_bytes"`
}

var allowedTaskFields = map[string]bool{
	"cmd": true, "num_procs": true, "umask": true, "working_dir": true,
	"auto_start": true, "auto_restart": true, "exit_codes": true,
	"start_retries": true, "start_time": true, "stop_signal": true,
	"stop_time": true, "stdout": true, "stderr": true, "env": true,
	"log_max_bytes": true,
}

// ParseSpecFile parses a full task specification document (task name ->
// task object) and returns one validated TaskConfig per task, or a single
// aggregated error describing every field-level failure across every task.
func ParseSpecFile(data []byte) (map[string]TaskConfig, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("Configuration error: <document>: invalid YAML: %v", err)
	}

	names := make([]string, 0, len(doc))
	for name := range doc {
		// The top-level daemon: block holds daemon-level settings read by
		// LoadDaemonConfig; it is not a task.
		if name == "daemon" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	result := make(map[string]TaskConfig, len(doc))
	var errs []string
	for _, name := range names {
		cfg, taskErrs := parseOneTask(name, doc[name])
		errs = append(errs, taskErrs...)
		if len(taskErrs) == 0 {
			result[name] = cfg
			log.GetLogger().WithField("task", name).Debugf("resolved configuration: num_procs=%d auto_restart=%s", cfg.NumProcs, cfg.AutoRestart)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(errs, "\n"))
	}
	return result, nil
}

func parseOneTask(name string, node yaml.Node) (TaskConfig, []string) {
	var errs []string

	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			field := node.Content[i].Value
			if !allowedTaskFields[field] {
				errs = append(errs, fmt.Sprintf("Configuration error: %s: unknown field %q", name, field))
			}
		}
	}

	var raw rawTaskConfig
	if err := node.Decode(&raw); err != nil {
		errs = append(errs, fmt.Sprintf("Configuration error: %s: %v", name, err))
		return TaskConfig{}, errs
	}

	cfg := TaskConfig{
		NumProcs:     1,
		Umask:        0o022,
		AutoStart:    true,
		AutoRestart:  AutoRestartUnexpected,
		ExitCodes:    []int{0},
		StartRetries: 3,
		StartTime:    1,
		StopSignal:   SignalTERM,
		StopTime:     10,
	}

	if raw.Cmd != nil {
		cfg.Cmd = strings.TrimSpace(*raw.Cmd)
	}
	if cfg.Cmd == "" {
		errs = append(errs, fmt.Sprintf("Configuration error: %s: cmd must not be empty", name))
	}

	if raw.NumProcs != nil {
		cfg.NumProcs = *raw.NumProcs
	}
	if cfg.NumProcs < 1 || cfg.NumProcs > 100000 {
		errs = append(errs, fmt.Sprintf("Configuration error: %s: num_procs must be between 1 and 100000", name))
	}

	if raw.Umask != nil {
		v, err := strconv.ParseUint(strings.TrimSpace(*raw.Umask), 8, 32)
		if err != nil || v > 0o777 {
			errs = append(errs, fmt.Sprintf("Configuration error: %s: umask must be an octal string between 0 and 0777", name))
		} else {
			cfg.Umask = uint32(v)
		}
	}

	if raw.WorkingDir != nil {
		cfg.WorkingDir = strings.TrimSpace(*raw.WorkingDir)
	}

	if raw.AutoStart != nil {
		cfg.AutoStart = *raw.AutoStart
	}

	if raw.AutoRestart != nil {
		switch AutoRestart(strings.TrimSpace(*raw.AutoRestart)) {
		case AutoRestartAlways, AutoRestartNever, AutoRestartUnexpected:
			cfg.AutoRestart = AutoRestart(strings.TrimSpace(*raw.AutoRestart))
		default:
			errs = append(errs, fmt.Sprintf("Configuration error: %s: auto_restart must be one of always, never, unexpected", name))
		}
	}

	if raw.ExitCodes != nil {
		cfg.ExitCodes = append([]int(nil), raw.ExitCodes...)
	}

	if raw.StartRetries != nil {
		cfg.StartRetries = *raw.StartRetries
	}
	if cfg.StartRetries < 0 {
		errs = append(errs, fmt.Sprintf("Configuration error: %s: start_retries must be >= 0", name))
	}

	if raw.StartTime != nil {
		cfg.StartTime = *raw.StartTime
	}
	if cfg.StartTime < 0 {
		errs = append(errs, fmt.Sprintf("Configuration error: %s: start_time must be >= 0", name))
	}

	if raw.StopSignal != nil {
		sig := StopSignal(strings.ToUpper(strings.TrimSpace(*raw.StopSignal)))
		if !validStopSignals[sig] {
			errs = append(errs, fmt.Sprintf("Configuration error: %s: stop_signal must be one of TERM, HUP, INT, QUIT, KILL, USR1, USR2", name))
		} else {
			cfg.StopSignal = sig
		}
	}

	if raw.StopTime != nil {
		cfg.StopTime = *raw.StopTime
	}
	if cfg.StopTime < 1 {
		errs = append(errs, fmt.Sprintf("Configuration error: %s: stop_time must be >= 1", name))
	}

	if raw.Stdout != nil {
		cfg.Stdout = strings.TrimSpace(*raw.Stdout)
	}
	if raw.Stderr != nil {
		cfg.Stderr = strings.TrimSpace(*raw.Stderr)
	}

	if raw.Env != nil {
		names := make([]string, 0, len(raw.Env))
		for k := range raw.Env {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			cfg.Env = append(cfg.Env, EnvVar{Name: k, Value: raw.Env[k]})
		}
	}

	if raw.LogMaxBytes != nil {
		cfg.LogMaxBytes = *raw.LogMaxBytes
	}

	return cfg, errs
}
