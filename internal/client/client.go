// Package client implements a minimal UNIX-domain-socket client used
// internally by the SIGHUP trampoline to post a self-addressed intent. The
// full interactive client is a separate, unimplemented collaborator.
package client

import (
	"fmt"
	"io"
	"net"
	"time"
)

// PostIntent dials socketPath, writes one JSON frame, and discards the
// response. It is used for fire-and-forget self-addressed intents.
func PostIntent(socketPath string, frame []byte) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("can't dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("can't write to %s: %w", socketPath, err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		uc.CloseWrite()
	}
	io.Copy(io.Discard, conn)
	return nil
}

// TriggerUpdate posts an Update(null) intent, the SIGHUP trampoline's sole
// purpose.
func TriggerUpdate(socketPath string) error {
	return PostIntent(socketPath, []byte(`{"Update":null}`))
}
