package capture

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
)

type recorder struct {
	events []domain.Event
	err    error
}

func (r *recorder) emit(event domain.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) lines() []string {
	out := make([]string, len(r.events))
	for i, event := range r.events {
		out[i] = event.Payload[0].Serialize().(string)
	}
	return out
}

func TestWriterEmitsCompleteLines(t *testing.T) {
	var sink bytes.Buffer
	rec := &recorder{}
	w := NewStdout(rec.emit, &sink)

	for _, chunk := range []string{"hel", "lo", "\nwor", "ld\n", "tail"} {
		_, err := fmt.Fprint(w, chunk)
		require.NoError(t, err)
	}

	assert.Equal(t, "hello\nworld\ntail", sink.String())
	assert.Equal(t, []string{"hello\n", "world\n"}, rec.lines())
	for _, event := range rec.events {
		assert.Equal(t, "stdout", event.Tag)
	}

	require.NoError(t, w.Close())
	assert.Equal(t, []string{"hello\n", "world\n", "tail"}, rec.lines())
}

func TestWriterSplitsMultipleLinesInOneChunk(t *testing.T) {
	rec := &recorder{}
	w := NewStderr(rec.emit, nil)

	_, err := w.WriteString("a\nb\n\nc")
	require.NoError(t, err)

	assert.Equal(t, []string{"a\n", "b\n", "\n"}, rec.lines())
	assert.Equal(t, "stderr", rec.events[0].Tag)
}

func TestWriterCloseWithoutTail(t *testing.T) {
	rec := &recorder{}
	w := NewStdout(rec.emit, nil)
	_, err := w.WriteString("done\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Len(t, rec.events, 1)
}

func TestWriterForwardsEvenWhenEmitFails(t *testing.T) {
	var sink bytes.Buffer
	boom := errors.New("queue gone")
	w := NewStdout((&recorder{err: boom}).emit, &sink)

	n, err := w.WriteString("line\n")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 5, n)
	assert.Equal(t, "line\n", sink.String())
}
