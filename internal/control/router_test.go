package control

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"firestige.xyz/taskmasterd/internal/config"
	"firestige.xyz/taskmasterd/internal/logring"
	"firestige.xyz/taskmasterd/internal/supervisor"
)

func newTestRouter(t *testing.T) (*Router, context.CancelFunc) {
	t.Helper()
	ring, err := logring.Open(filepath.Join(t.TempDir(), "ring.log"))
	if err != nil {
		t.Fatalf("logring.Open: %v", err)
	}
	t.Cleanup(func() { ring.Close() })

	sup := supervisor.New(ring, "", "", "", "", map[string]config.TaskConfig{
		"web": {Cmd: "/bin/true", NumProcs: 1, StartRetries: 3, StartTime: 1, StopTime: 1, StopSignal: config.SignalTERM, AutoRestart: config.AutoRestartUnexpected, ExitCodes: []int{0}},
	})

	router := &Router{
		SocketPath: filepath.Join(t.TempDir(), "ctl.sock"),
		Supervisor: sup,
		Ring:       ring,
	}
	if err := router.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go router.Serve(ctx)
	return router, cancel
}

func send(t *testing.T, sockPath, frame string) string {
	t.Helper()
	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		uc.CloseWrite()
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestRouterUnknownAction(t *testing.T) {
	router, cancel := newTestRouter(t)
	defer cancel()

	resp := send(t, router.SocketPath, `{"Bogus":null}`)
	if resp != "Unknown action" {
		t.Errorf("resp = %q, want %q", resp, "Unknown action")
	}
}

func TestRouterStatus(t *testing.T) {
	router, cancel := newTestRouter(t)
	defer cancel()

	resp := send(t, router.SocketPath, `{"Status":null}`)
	if resp == "" {
		t.Errorf("expected a non-empty status response")
	}
}

func TestRouterConfigNotFound(t *testing.T) {
	router, cancel := newTestRouter(t)
	defer cancel()

	resp := send(t, router.SocketPath, `{"Config":"nope"}`)
	if resp == "" {
		t.Errorf("expected a not-found message")
	}
}

func TestRouterConfigBody(t *testing.T) {
	router, cancel := newTestRouter(t)
	defer cancel()

	resp := send(t, router.SocketPath, `{"Config":"web"}`)

	var body map[string]any
	if err := json.Unmarshal([]byte(resp), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v\nbody: %q", err, resp)
	}

	for _, key := range []string{"cmd", "num_procs", "auto_restart", "start_retries", "stop_signal", "exit_codes"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response JSON missing snake_case key %q, got keys %v", key, body)
		}
	}
	if cmd, _ := body["cmd"].(string); cmd != "/bin/true" {
		t.Errorf("body[cmd] = %v, want /bin/true", body["cmd"])
	}

	for _, badKey := range []string{"Cmd", "NumProcs", "AutoRestart"} {
		if strings.Contains(resp, `"`+badKey+`"`) {
			t.Errorf("response retained capitalized Go field name %q: %q", badKey, resp)
		}
	}
}
