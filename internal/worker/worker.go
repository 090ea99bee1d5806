package worker

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/focusedad/internal/utils" // Using the SafeCommand wrapper
)

// PythonWorker is one inference engine process. Requests go in on Stdin,
// responses come back on a dedicated FD 3 pipe so engine logging on stdout/stderr
// can never corrupt the framing.
type PythonWorker struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	closeOnce sync.Once
}

// NewPythonWorker starts `python -u script`. The process lives until Close,
// independent of any request context.
func NewPythonWorker(python, script string) (*PythonWorker, error) {
	py := utils.NewSafeCommand(context.Background(), python, "-u", script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("engine failed to start: %w", err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// send writes one request frame: [Length][Op][Body]
func (w *PythonWorker) send(op byte, body []byte) error {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(body)+1)); err != nil {
		return err
	}
	if _, err := w.Stdin.Write([]byte{op}); err != nil {
		return err
	}
	_, err := w.Stdin.Write(body)
	return err
}

// readRaw reads one response frame: [Length][Status][Payload]
func (w *PythonWorker) readRaw() (byte, []byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return 0, nil, err // This is where we catch an engine that crashed on import
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen == 0 {
		return 0, nil, fmt.Errorf("empty response frame")
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return 0, nil, err
	}
	return respBody[0], respBody[1:], nil
}

// read waits for one response frame, killing the process if ctx ends first.
func (w *PythonWorker) read(ctx context.Context) (byte, []byte, error) {
	type frame struct {
		status  byte
		payload []byte
		err     error
	}
	ch := make(chan frame, 1)
	go func() {
		s, p, err := w.readRaw()
		ch <- frame{s, p, err}
	}()

	select {
	case f := <-ch:
		return f.status, f.payload, f.err
	case <-ctx.Done():
		// The response stream is now out of sync; the process cannot be reused.
		w.Close()
		return 0, nil, ctx.Err()
	}
}

// Logs returns what the engine has written to stderr so far.
func (w *PythonWorker) Logs() string {
	if w.Cmd == nil {
		return ""
	}
	return w.Cmd.Stderr.String()
}

// Close shuts the engine down. Safe to call more than once.
func (w *PythonWorker) Close() {
	w.closeOnce.Do(func() {
		w.Stdin.Close()
		w.DataPipe.Close()
		if w.Cmd != nil && w.Cmd.Process != nil {
			w.Cmd.Process.Kill()
			w.Cmd.Wait()
		}
	})
}
