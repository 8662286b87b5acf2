package program

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
)

// maxEventLine bounds one fd 3 line. Bit planes of a full vector register
// serialize to a few hundred KiB of JSON.
const maxEventLine = 8 << 20

// EmitFunc hands a decoded event to the event queue.
type EmitFunc func(domain.Event) error

// ParseEvent decodes one fd 3 line: a JSON array [tag, component...].
func ParseEvent(line []byte) (domain.Event, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(line, &parts); err != nil {
		return domain.Event{}, fmt.Errorf("invalid event line: %w", err)
	}
	if len(parts) == 0 {
		return domain.Event{}, errors.New("invalid event line: empty array")
	}
	var tag string
	if err := json.Unmarshal(parts[0], &tag); err != nil {
		return domain.Event{}, fmt.Errorf("invalid event tag: %w", err)
	}
	if tag == "" {
		return domain.Event{}, errors.New("invalid event tag: empty")
	}

	payload := make([]domain.Serializable, 0, len(parts)-1)
	for i, raw := range parts[1:] {
		component, err := domain.DecodeComponent(raw)
		if err != nil {
			return domain.Event{}, fmt.Errorf("component %d of %s: %w", i, tag, err)
		}
		payload = append(payload, component)
	}
	return domain.NewEvent(tag, payload...), nil
}

// DecodeEvents reads newline-delimited events from r and emits them in
// order until r ends. Malformed lines are logged and skipped. Once emit
// fails the rest of r is discarded so the writer never blocks on a full
// pipe.
func DecodeEvents(r io.Reader, emit EmitFunc, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		event, err := ParseEvent(line)
		if err != nil {
			logger.Warn("skipping malformed instrumentation event", "error", err)
			continue
		}
		if err := emit(event); err != nil {
			_, _ = io.Copy(io.Discard, r)
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("reading instrumentation events: %w", err)
	}
	return nil
}
