// Package iopump reads a child process pipe, tees it into a ring buffer and
// optionally the wrapper's own stdout/stderr, and delivers complete lines on
// a bounded channel.
package iopump

import (
	"context"
	"fmt"
	"io"

	"github.com/chaorenex1/memex-cli-sub000/internal/ring"
)

// Stream identifies which child pipe a LineTap came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// LineTap is one complete line delivered by a pump.
type LineTap struct {
	Line   string
	Stream Stream
}

// Error is a stream-tagged I/O failure terminating a pump.
type Error struct {
	Stream Stream
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("iopump: %s stream error: %v", e.Stream, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

const readBufSize = 16 * 1024

// Pump reads from rd until EOF or ctx cancellation, appending every read to
// ring, optionally echoing to tee, and delivering complete lines on lines.
// It returns the total byte count read, or an *Error on failure.
func Pump(ctx context.Context, rd io.Reader, tee io.Writer, ring *ring.Buffer, lines chan<- LineTap, silent bool, stream Stream) (uint64, error) {
	buf := make([]byte, readBufSize)
	var total uint64
	var lineBuf []byte

	flush := func(final bool) error {
		for {
			idx := indexByte(lineBuf, '\n')
			if idx < 0 {
				if final && len(lineBuf) > 0 {
					one := trimCR(lineBuf)
					if len(one) > 0 {
						if !sendLine(ctx, lines, LineTap{Line: string(one), Stream: stream}) {
							return ctx.Err()
						}
					}
					lineBuf = nil
				}
				return nil
			}
			one := trimCR(lineBuf[:idx])
			lineBuf = lineBuf[idx+1:]
			if !sendLine(ctx, lines, LineTap{Line: string(one), Stream: stream}) {
				return ctx.Err()
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		n, err := rd.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			ring.Push(chunk)
			if !silent && tee != nil {
				if _, werr := tee.Write(chunk); werr != nil {
					return total, &Error{Stream: stream, Err: werr}
				}
			}
			total += uint64(n)

			lineBuf = append(lineBuf, chunk...)
			if ferr := flush(false); ferr != nil {
				return total, ferr
			}
		}
		if err != nil {
			if err == io.EOF {
				_ = flush(true)
				return total, nil
			}
			return total, &Error{Stream: stream, Err: err}
		}
	}
}

func sendLine(ctx context.Context, lines chan<- LineTap, tap LineTap) bool {
	select {
	case lines <- tap:
		return true
	case <-ctx.Done():
		return false
	}
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}
