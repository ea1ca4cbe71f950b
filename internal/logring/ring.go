// Package logring implements the daemon's bounded in-memory log history: a
// small ring buffer of recent operational lines that operators can fetch or
// stream over the control socket (maintail), mirrored to a text log file and
// optionally fanned out to a single HTTP sink.
package logring

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

const (
	// MaxMessages is the number of lines the ring retains once trimmed.
	MaxMessages = 1000
	// bufferSize is the 20% overflow slack before a trim runs.
	bufferSize = MaxMessages * 6 / 5

	TagMonitor       = "MONITOR"
	TagMonitorThread = "MONITOR THREAD"
	TagResponder     = "RESPONDER"
	TagHTTPLogger    = "HTTP_LOGGER"
	TagGlobal        = "GLOBAL"

	// defaultHTTPPath is the fixed URL path the reference HTTP sink
	// receiver expects; kept as the default so existing receivers built
	// against the original daemon keep working unmodified.
	defaultHTTPPath = "/a1e81e7b-6e3d-4c2e-9d3a-1f7e5b9c2d4f"
)

// Line is one ring entry: a monotonically increasing index and the fully
// formatted text (including trailing newline) that was written to the file.
type Line struct {
	Idx     int
	Message string
}

// Ring is the Log Ring component. Safe for concurrent use.
type Ring struct {
	mu      sync.Mutex
	history []Line
	nextIdx int
	file    *os.File

	httpEnabled bool
	httpPort    int
	httpPath    string
	httpClient  *http.Client
}

// Open creates a Ring that mirrors writes to filePath (opened write+create,
// not truncated).
func Open(filePath string) (*Ring, error) {
	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("can't create logging file: %s: %w", filePath, err)
	}
	return &Ring{
		history:    make([]Line, 0, bufferSize),
		file:       f,
		httpPath:   defaultHTTPPath,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}, nil
}

func timestamp() string {
	now := time.Now()
	return fmt.Sprintf("[%02d:%02d:%02d]: ", now.Hour(), now.Minute(), now.Second())
}

func (r *Ring) doLog(tag, message string) string {
	line := fmt.Sprintf("[%s]: %s%s\n", tag, timestamp(), message)
	fmt.Print(line)
	if _, err := r.file.WriteString(line); err != nil {
		fmt.Fprintf(os.Stderr, "Error! Can't write log %s in log file: %v\n", message, err)
	}

	if tag == TagResponder {
		return line
	}

	r.nextIdx++
	entry := Line{Idx: r.nextIdx, Message: line}
	r.history = append(r.history, entry)
	if len(r.history) > bufferSize {
		drop := len(r.history) - MaxMessages
		r.history = append([]Line(nil), r.history[drop:]...)
	}

	if r.httpEnabled {
		r.postLocked(line)
	}
	return line
}

// Log appends a tagged line, mirrors it to the file, and (if a group tag
// other than RESPONDER) keeps it in the ring and fans it to the HTTP sink.
func (r *Ring) Log(tag, message string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doLog(tag, message)
}

// History returns up to limit most recent lines, oldest first. A nil limit
// returns the whole retained history.
func (r *Ring) History(limit *int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.history)
	take := n
	if limit != nil && *limit < n {
		take = *limit
	}
	out := make([]string, take)
	for i, l := range r.history[n-take:] {
		out[i] = l.Message
	}
	return out
}

// Since returns all lines with index strictly greater than lastIdx, in
// order, plus the new highest index observed (unchanged if nothing new).
func (r *Ring) Since(lastIdx int) ([]Line, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Line
	for _, l := range r.history {
		if l.Idx > lastIdx {
			out = append(out, l)
		}
	}
	newIdx := lastIdx
	if len(out) > 0 {
		newIdx = out[len(out)-1].Idx
	}
	return out, newIdx
}

// Snapshot returns the last n ring entries (or all, if n is nil) along with
// the index of the last entry returned, suitable for priming a maintail
// stream before switching to Since-based polling.
func (r *Ring) Snapshot(n *int) ([]Line, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := len(r.history)
	take := total
	if n != nil && *n < total {
		take = *n
	}
	out := append([]Line(nil), r.history[total-take:]...)
	last := 0
	if total > 0 {
		last = r.history[total-1].Idx
	}
	return out, last
}

// EnableHTTP turns on the HTTP fan-out sink at the given port and replays
// the existing history to it.
func (r *Ring) EnableHTTP(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.httpEnabled = true
	r.httpPort = port
	for _, l := range r.history {
		r.postLocked(l.Message)
	}
}

// DisableHTTP turns off the HTTP fan-out sink.
func (r *Ring) DisableHTTP() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.httpEnabled = false
}

// HTTPStatus reports whether the sink is enabled and on which port.
func (r *Ring) HTTPStatus() (enabled bool, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.httpEnabled, r.httpPort
}

// postLocked POSTs one line to the HTTP sink. Must be called with mu held.
// A failure disables the sink and records a self-entry, matching the "a
// write failure disables the sink" rule; the self-entry is logged via
// doLog directly (mu is already held) instead of re-entering Log.
func (r *Ring) postLocked(body string) {
	url := fmt.Sprintf("http://localhost:%d%s", r.httpPort, r.httpPath)
	resp, err := r.httpClient.Post(url, "text/plain", bytes.NewBufferString(body))
	if err != nil {
		r.httpEnabled = false
		r.doLog(TagHTTPLogger, fmt.Sprintf("disabling HTTP sink after write failure: %v", err))
		return
	}
	resp.Body.Close()
}

// Close flushes and closes the backing log file.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
