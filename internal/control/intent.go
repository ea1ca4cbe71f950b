// Package control implements the Control Router: the UNIX-domain-socket
// accept loop, intent decoding, and response streaming described by the
// external control protocol.
package control

import (
	"encoding/json"
	"fmt"

	"firestige.xyz/taskmasterd/internal/supervisor"
)

// TailMode is the {"Fixed":null|n} | {"Stream":null|n} wire shape.
type TailMode struct {
	Stream bool
	N      *int
}

// Intent is a decoded control-plane message: one of the variants documented
// in the external interfaces section of the specification.
type Intent struct {
	Kind       string
	Name       *string
	UpdatePath *string
	Selector   *supervisor.TaskSelector
	Signum     int
	TailOutput string
	TailMode   TailMode
	HTTPPort   *int
}

// ErrUnknownAction is returned for any frame that does not decode into one
// of the known intent variants; callers reply with the literal body
// "Unknown action".
var ErrUnknownAction = fmt.Errorf("unknown action")

// DecodeIntent parses one JSON document into an Intent.
func DecodeIntent(data []byte) (Intent, error) {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		if bare == "Shutdown" {
			return Intent{Kind: "Shutdown"}, nil
		}
		return Intent{}, ErrUnknownAction
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil || len(m) != 1 {
		return Intent{}, ErrUnknownAction
	}

	for key, raw := range m {
		switch key {
		case "Config":
			var name string
			if err := json.Unmarshal(raw, &name); err != nil {
				return Intent{}, ErrUnknownAction
			}
			return Intent{Kind: key, Name: &name}, nil

		case "Update":
			var path *string
			if err := json.Unmarshal(raw, &path); err != nil {
				return Intent{}, ErrUnknownAction
			}
			return Intent{Kind: key, UpdatePath: path}, nil

		case "Status":
			var name *string
			if err := json.Unmarshal(raw, &name); err != nil {
				return Intent{}, ErrUnknownAction
			}
			return Intent{Kind: key, Name: name}, nil

		case "Start", "Stop", "Restart":
			sel, err := decodeSelector(raw)
			if err != nil {
				return Intent{}, ErrUnknownAction
			}
			return Intent{Kind: key, Selector: sel}, nil

		case "Signal":
			var tuple []json.RawMessage
			if err := json.Unmarshal(raw, &tuple); err != nil || len(tuple) < 2 {
				return Intent{}, ErrUnknownAction
			}
			var n int
			var name string
			if err := json.Unmarshal(tuple[0], &n); err != nil {
				return Intent{}, ErrUnknownAction
			}
			if err := json.Unmarshal(tuple[1], &name); err != nil {
				return Intent{}, ErrUnknownAction
			}
			var idx *int
			if len(tuple) > 2 {
				json.Unmarshal(tuple[2], &idx)
			}
			return Intent{Kind: key, Signum: n, Selector: &supervisor.TaskSelector{Name: name, Idx: idx}}, nil

		case "Tail":
			var tuple []json.RawMessage
			if err := json.Unmarshal(raw, &tuple); err != nil || len(tuple) != 3 {
				return Intent{}, ErrUnknownAction
			}
			var name, output string
			if err := json.Unmarshal(tuple[0], &name); err != nil {
				return Intent{}, ErrUnknownAction
			}
			if err := json.Unmarshal(tuple[1], &output); err != nil {
				return Intent{}, ErrUnknownAction
			}
			mode, err := decodeTailMode(tuple[2])
			if err != nil {
				return Intent{}, ErrUnknownAction
			}
			return Intent{Kind: key, Name: &name, TailOutput: output, TailMode: mode}, nil

		case "Maintail":
			mode, err := decodeTailMode(raw)
			if err != nil {
				return Intent{}, ErrUnknownAction
			}
			return Intent{Kind: key, TailMode: mode}, nil

		case "Clear":
			var name string
			if err := json.Unmarshal(raw, &name); err != nil {
				return Intent{}, ErrUnknownAction
			}
			return Intent{Kind: key, Name: &name}, nil

		case "HttpLogging":
			var port *int
			if err := json.Unmarshal(raw, &port); err != nil {
				return Intent{}, ErrUnknownAction
			}
			return Intent{Kind: key, HTTPPort: port}, nil

		default:
			return Intent{}, ErrUnknownAction
		}
	}
	return Intent{}, ErrUnknownAction
}

func decodeSelector(raw json.RawMessage) (*supervisor.TaskSelector, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var tuple []json.RawMessage
	if err := json.Unmarshal(raw, &tuple); err != nil || len(tuple) < 1 {
		return nil, ErrUnknownAction
	}
	var name string
	if err := json.Unmarshal(tuple[0], &name); err != nil {
		return nil, ErrUnknownAction
	}
	var idx *int
	if len(tuple) > 1 {
		json.Unmarshal(tuple[1], &idx)
	}
	return &supervisor.TaskSelector{Name: name, Idx: idx}, nil
}

func decodeTailMode(raw json.RawMessage) (TailMode, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || len(m) != 1 {
		return TailMode{}, ErrUnknownAction
	}
	if v, ok := m["Fixed"]; ok {
		var n *int
		json.Unmarshal(v, &n)
		return TailMode{Stream: false, N: n}, nil
	}
	if v, ok := m["Stream"]; ok {
		var n *int
		json.Unmarshal(v, &n)
		return TailMode{Stream: true, N: n}, nil
	}
	return TailMode{}, ErrUnknownAction
}
