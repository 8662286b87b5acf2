// Package capture turns a character stream into line events while
// passing every byte through to the original sink.
package capture

import (
	"bytes"
	"io"
	"sync"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
)

// EmitFunc delivers one event to the producer side of the event queue.
type EmitFunc func(domain.Event) error

// Writer buffers writes until a line terminator and emits each completed
// line as one event tagged with the stream name.
type Writer struct {
	stream string
	emit   EmitFunc
	sink   io.Writer

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewWriter wraps sink. A nil sink discards output after capture.
func NewWriter(stream string, emit EmitFunc, sink io.Writer) *Writer {
	if sink == nil {
		sink = io.Discard
	}
	return &Writer{stream: stream, emit: emit, sink: sink}
}

// NewStdout captures a stdout stream.
func NewStdout(emit EmitFunc, sink io.Writer) *Writer {
	return NewWriter(domain.TagStdout, emit, sink)
}

// NewStderr captures a stderr stream.
func NewStderr(emit EmitFunc, sink io.Writer) *Writer {
	return NewWriter(domain.TagStderr, emit, sink)
}

// Write forwards p to the sink unchanged, then emits one event per line
// completed by p. An emit error is only reported after the sink write
// succeeded.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.sink.Write(p)
	if err != nil {
		return n, err
	}

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		if err := w.emitLine(line); err != nil {
			return n, err
		}
	}
	if w.buf.Len() == 0 {
		w.buf.Reset()
	}
	return n, nil
}

// WriteString implements io.StringWriter.
func (w *Writer) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Close emits the unterminated tail, if any, as the stream's last line.
func (w *Writer) Close() error {
	return w.Flush()
}

// Flush emits the unterminated tail, if any, as one line. The writer stays
// usable; the run controller flushes between runs.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}
	line := w.buf.String()
	w.buf.Reset()
	return w.emitLine(line)
}

func (w *Writer) emitLine(line string) error {
	if w.emit == nil {
		return nil
	}
	return w.emit(domain.NewEvent(w.stream, domain.Value{V: line}))
}
