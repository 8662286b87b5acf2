package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Serializable is implemented by every payload component. Serialize
// returns a value that encoding/json and CBOR can both encode.
type Serializable interface {
	Serialize() any
}

// Value is a component passed through unchanged (strings, numbers, maps).
type Value struct {
	V any
}

func (v Value) Serialize() any { return v.V }

// SourceLocation points at the source line that produced an event.
type SourceLocation struct {
	FilePath   string
	LineNumber int
}

// Serialize encodes the location as [file_path, line_number]. A missing
// path encodes as null.
func (l SourceLocation) Serialize() any {
	var path any
	if l.FilePath != "" {
		path = l.FilePath
	}
	return []any{path, l.LineNumber}
}

// BoolVector is a one-dimensional plane of bits.
type BoolVector []bool

func (b BoolVector) Serialize() any { return []bool(b) }

// BoolMatrix is a two-dimensional plane of bits.
type BoolMatrix [][]bool

func (b BoolMatrix) Serialize() any {
	rows := make([][]bool, len(b))
	copy(rows, b)
	return rows
}

// IntList is a list of integers.
type IntList []int64

func (l IntList) Serialize() any { return []int64(l) }

// RspFifoMsg is one message read from the response FIFO.
type RspFifoMsg struct {
	Rsp32K int64
	Rsp2K  []int64
}

// Serialize encodes the message as [rsp32k, [rsp2k...]].
func (m RspFifoMsg) Serialize() any {
	rsp2k := m.Rsp2K
	if rsp2k == nil {
		rsp2k = []int64{}
	}
	return []any{m.Rsp32K, rsp2k}
}

// Batch is the accumulated content of one closed span.
type Batch []Event

// Serialize encodes every event of the batch in order.
func (b Batch) Serialize() any {
	units := make([]any, len(b))
	for i, event := range b {
		units[i] = event.Serialize()
	}
	return units
}

// taggedComponent is the fd 3 encoding of the non-scalar variants.
type taggedComponent struct {
	Loc   []json.RawMessage `json:"loc"`
	Bools json.RawMessage   `json:"bools"`
	Ints  []int64           `json:"ints"`
	Rsp   []json.RawMessage `json:"rsp"`
}

// DecodeComponent maps one JSON-encoded component written by an
// instrumented program to its payload variant. Objects carrying exactly
// one of the keys "loc", "bools", "ints" or "rsp" decode to the matching
// variant; anything else decodes to a Value.
func DecodeComponent(raw json.RawMessage) (Serializable, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &keys); err != nil {
			return nil, fmt.Errorf("failed to decode component: %w", err)
		}
		if len(keys) == 1 {
			var tagged taggedComponent
			if err := json.Unmarshal(trimmed, &tagged); err != nil {
				return nil, fmt.Errorf("failed to decode tagged component: %w", err)
			}
			switch {
			case tagged.Loc != nil:
				return decodeLocation(tagged.Loc)
			case tagged.Bools != nil:
				return decodeBools(tagged.Bools)
			case tagged.Ints != nil:
				return IntList(tagged.Ints), nil
			case tagged.Rsp != nil:
				return decodeRsp(tagged.Rsp)
			}
		}
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("failed to decode component: %w", err)
	}
	return Value{V: v}, nil
}

func decodeLocation(parts []json.RawMessage) (Serializable, error) {
	if len(parts) != 2 {
		return nil, fmt.Errorf("loc: expected [path, line], got %d elements", len(parts))
	}
	loc := SourceLocation{LineNumber: -1}
	var path *string
	if err := json.Unmarshal(parts[0], &path); err != nil {
		return nil, fmt.Errorf("loc path: %w", err)
	}
	if path != nil {
		loc.FilePath = *path
	}
	var line *int
	if err := json.Unmarshal(parts[1], &line); err != nil {
		return nil, fmt.Errorf("loc line: %w", err)
	}
	if line != nil {
		loc.LineNumber = *line
	}
	return loc, nil
}

func decodeBools(raw json.RawMessage) (Serializable, error) {
	var matrix [][]bool
	if err := json.Unmarshal(raw, &matrix); err == nil {
		return BoolMatrix(matrix), nil
	}
	var vector []bool
	if err := json.Unmarshal(raw, &vector); err != nil {
		return nil, fmt.Errorf("bools: %w", err)
	}
	return BoolVector(vector), nil
}

func decodeRsp(parts []json.RawMessage) (Serializable, error) {
	if len(parts) != 2 {
		return nil, fmt.Errorf("rsp: expected [rsp32k, rsp2k], got %d elements", len(parts))
	}
	var msg RspFifoMsg
	if err := json.Unmarshal(parts[0], &msg.Rsp32K); err != nil {
		return nil, fmt.Errorf("rsp32k: %w", err)
	}
	if err := json.Unmarshal(parts[1], &msg.Rsp2K); err != nil {
		return nil, fmt.Errorf("rsp2k: %w", err)
	}
	return msg, nil
}
