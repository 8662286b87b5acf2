package ws

// Message types from observer to relay
const (
	TypeAwaitAppEvent = "await_app_event"
	TypeRestart       = "restart"
	TypeLoadFile      = "load_file"
)

// Message types from relay to observer
const (
	TypeHelloAck = "hello_ack"
	TypeAppEvent = "app_event"
	TypeFileLoad = "file_load"
	TypeError    = "error"
)

// Envelope is the frame sent to observers.
type Envelope struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Command is a frame received from an observer.
type Command struct {
	Type      string      `json:"type"`
	Ts        int64       `json:"ts"`
	RequestID string      `json:"request_id,omitempty"`
	Data      CommandData `json:"data"`
}

// CommandData carries the arguments of a command.
type CommandData struct {
	// Path is the file requested by load_file.
	Path string `json:"path,omitempty"`
}

// HelloAckData describes the session to the observer.
type HelloAckData struct {
	Codec string `json:"codec"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeUnknownType    = "unknown_type"
	ErrorCodeForbidden      = "forbidden"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeUnavailable    = "unavailable"
	ErrorCodeShutdown       = "shutdown"
	ErrorCodeInternalError  = "internal_error"
)
