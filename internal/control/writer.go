// Package control implements the single-writer discipline that serializes
// JSON control commands onto a backend's stdin, one newline-terminated line
// at a time.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// Writer owns a child's stdin exclusively. No other goroutine may write to
// the same destination while a Writer is running.
type Writer struct {
	in   <-chan models.ControlCommand
	w    *bufio.Writer
	errs chan error
}

// New constructs a control writer reading commands from in and writing
// newline-delimited JSON to dst. errCap is typically 1 ("one-slot error
// channel" per spec.md §4.5).
func New(in <-chan models.ControlCommand, dst io.Writer, errCap int) *Writer {
	if errCap < 1 {
		errCap = 1
	}
	return &Writer{
		in:   in,
		w:    bufio.NewWriter(dst),
		errs: make(chan error, errCap),
	}
}

// Errs returns the one-slot error channel the runtime should select on.
func (w *Writer) Errs() <-chan error { return w.errs }

// Run drains in until it is closed or ctx is cancelled, writing each command
// as a single JSON line followed by '\n', flushing after every write. On
// any write error it reports to Errs() and returns.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-w.in:
			if !ok {
				return
			}
			if err := w.writeLine(cmd); err != nil {
				select {
				case w.errs <- err:
				default:
				}
				return
			}
		}
	}
}

func (w *Writer) writeLine(cmd models.ControlCommand) error {
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}
