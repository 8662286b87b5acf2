package domain

import (
	"encoding/json"
	"time"
)

// Run represents a single execution of the observed program.
type Run struct {
	RunID     string          `json:"run_id"`
	Status    RunStatus       `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// RecordedUnit is a delivered unit persisted for replay.
type RecordedUnit struct {
	RunID    string          `json:"run_id"`
	Seq      int64           `json:"seq"`
	Ts       int64           `json:"ts"` // Unix milliseconds
	Tag      string          `json:"tag"`
	Encoding PayloadEncoding `json:"-"`
	Payload  json.RawMessage `json:"payload"`
}

// RunError is the error document stored with a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
