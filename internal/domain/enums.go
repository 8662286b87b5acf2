// Package domain defines the core domain models for the trace relay.
package domain

import "strings"

// Well-known event tags.
const (
	TagFragmentEnter       = "fragment::enter"
	TagFragmentExit        = "fragment::exit"
	TagMultiStatementEnter = "multi_statement::enter"
	TagMultiStatementExit  = "multi_statement::exit"
	TagStatementEnter      = "statement::enter"
	TagStatementExit       = "statement::exit"
	TagStdout              = "stdout"
	TagStderr              = "stderr"
	TagAppStart            = "app::start"
	TagAppStop             = "app::stop"
	TagBatch               = "diri::batch"

	// seuPrefix marks low-level SEU register writes.
	seuPrefix = "seu::"
)

// Kind is the closed set of event kinds the classifier distinguishes.
type Kind int

const (
	KindOther Kind = iota
	KindFragmentEnter
	KindFragmentExit
	KindMultiStatementEnter
	KindMultiStatementExit
	KindStatementEnter
	KindStatementExit
	// KindSideChannel covers seu::* writes and captured stream output.
	KindSideChannel
	// KindLifecycle covers app::start and app::stop.
	KindLifecycle
)

var kindNames = [...]string{
	KindOther:               "other",
	KindFragmentEnter:       "fragment_enter",
	KindFragmentExit:        "fragment_exit",
	KindMultiStatementEnter: "multi_statement_enter",
	KindMultiStatementExit:  "multi_statement_exit",
	KindStatementEnter:      "statement_enter",
	KindStatementExit:       "statement_exit",
	KindSideChannel:         "side_channel",
	KindLifecycle:           "lifecycle",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// KindOf maps a tag to its Kind.
func KindOf(tag string) Kind {
	switch tag {
	case TagFragmentEnter:
		return KindFragmentEnter
	case TagFragmentExit:
		return KindFragmentExit
	case TagMultiStatementEnter:
		return KindMultiStatementEnter
	case TagMultiStatementExit:
		return KindMultiStatementExit
	case TagStatementEnter:
		return KindStatementEnter
	case TagStatementExit:
		return KindStatementExit
	case TagStdout, TagStderr:
		return KindSideChannel
	case TagAppStart, TagAppStop:
		return KindLifecycle
	}
	if strings.HasPrefix(tag, seuPrefix) {
		return KindSideChannel
	}
	return KindOther
}

// RunState represents whether the observed program is executing.
type RunState string

const (
	RunStateIdle    RunState = "IDLE"
	RunStateRunning RunState = "RUNNING"
)

// RunStatus represents the recorded outcome of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusDone      RunStatus = "DONE"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// PayloadEncoding identifies how a recorded unit payload is stored.
type PayloadEncoding string

const (
	PayloadEncodingNone PayloadEncoding = "none"
	PayloadEncodingZstd PayloadEncoding = "zstd"
	PayloadEncodingLZ4  PayloadEncoding = "lz4"
)
