package client

import (
	"io"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerUpdatePostsUpdateIntent(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	l, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	defer l.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- string(data)
	}()

	err = TriggerUpdate(sockPath)
	require.NoError(t, err)

	assert.Equal(t, `{"Update":null}`, <-received)
}

func TestPostIntentFailsOnMissingSocket(t *testing.T) {
	err := PostIntent(filepath.Join(t.TempDir(), "nope.sock"), []byte("{}"))
	assert.Error(t, err)
}
