package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

var errWriterClosed = errors.New("logger: writer closed")

// sinkWriter fans each formatted line out to every sink. Lines are written
// whole under a single lock so concurrent records never interleave.
type sinkWriter struct {
	mu     sync.Mutex
	sinks  []*bufio.Writer
	closed bool
	err    error
}

func newSinkWriter(writers ...io.Writer) *sinkWriter {
	w := &sinkWriter{}
	for _, out := range writers {
		if out != nil {
			w.sinks = append(w.sinks, bufio.NewWriterSize(out, 16*1024))
		}
	}
	return w
}

// Write copies one line to all sinks. The first sink failure sticks and is
// returned by every later call.
func (w *sinkWriter) Write(line []byte) error {
	if len(line) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWriterClosed
	}
	if w.err != nil {
		return w.err
	}
	for _, sink := range w.sinks {
		if _, err := sink.Write(line); err != nil {
			w.err = err
			return err
		}
		if err := sink.Flush(); err != nil {
			w.err = err
			return err
		}
	}
	return nil
}

// Flush pushes buffered bytes to the sinks.
func (w *sinkWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// Close flushes and rejects further writes. It is safe to call twice.
func (w *sinkWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.err
	}
	w.closed = true
	if err := w.flushLocked(); err != nil && w.err == nil {
		w.err = err
	}
	return w.err
}

func (w *sinkWriter) flushLocked() error {
	var errs []error
	for _, sink := range w.sinks {
		if err := sink.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
