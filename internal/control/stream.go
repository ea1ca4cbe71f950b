package control

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"firestige.xyz/taskmasterd/internal/logring"
)

// streamPollInterval matches the 100ms poll cadence used by both the
// reconciliation loop and the streaming responses.
const streamPollInterval = 100 * time.Millisecond

func (r *Router) handleMaintail(ctx context.Context, conn net.Conn, intent Intent) {
	if !intent.TailMode.Stream {
		lines := r.Ring.History(intent.TailMode.N)
		writeAndLog(r.Ring, conn, strings.Join(lines, ""))
		conn.Close()
		return
	}

	go func() {
		defer conn.Close()
		backlog, lastIdx := r.Ring.Snapshot(intent.TailMode.N)
		for _, l := range backlog {
			if _, err := conn.Write([]byte(l.Message)); err != nil {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			time.Sleep(streamPollInterval)
			newLines, newIdx := r.Ring.Since(lastIdx)
			for _, l := range newLines {
				if _, err := conn.Write([]byte(l.Message)); err != nil {
					return
				}
			}
			lastIdx = newIdx
		}
	}()
}

func (r *Router) handleTail(ctx context.Context, conn net.Conn, intent Intent) {
	target, err := r.Supervisor.Tail(*intent.Name, intent.TailOutput == "Stdout")
	if err != nil {
		writeAndLog(r.Ring, conn, err.Error()+"\n")
		conn.Close()
		return
	}
	filename := target.Filename

	data, err := os.ReadFile(filename)
	if err != nil {
		r.Ring.Log(logring.TagResponder, fmt.Sprintf("can't open file: %v", err))
		conn.Close()
		return
	}

	toSend := data
	if intent.TailMode.N != nil {
		lines := strings.Split(string(data), "\n")
		if lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		n := *intent.TailMode.N
		if n > len(lines) {
			n = len(lines)
		}
		tail := lines[len(lines)-n:]
		toSend = []byte(strings.Join(tail, "\n"))
		if len(tail) > 0 {
			toSend = append(toSend, '\n')
		}
	}

	if _, err := conn.Write(toSend); err != nil {
		conn.Close()
		return
	}

	if !intent.TailMode.Stream {
		conn.Close()
		return
	}

	go func() {
		defer conn.Close()
		lastSize := int64(len(data))
		offset := lastSize

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			time.Sleep(streamPollInterval)

			info, err := os.Stat(filename)
			if err != nil {
				return
			}
			newSize := info.Size()

			if newSize < lastSize {
				if _, err := conn.Write([]byte(fmt.Sprintf("\n\ntail: %s: file truncated\n\n", filename))); err != nil {
					return
				}
				offset = 0
			} else if newSize == lastSize {
				continue
			}

			f, err := os.Open(filename)
			if err != nil {
				return
			}
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				f.Close()
				return
			}
			buf, _ := io.ReadAll(f)
			f.Close()

			if len(buf) > 0 {
				if _, err := conn.Write(buf); err != nil {
					return
				}
			}
			offset = newSize
			lastSize = newSize
		}
	}()
}
