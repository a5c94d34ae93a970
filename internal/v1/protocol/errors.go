package protocol

// Machine-readable error codes. Closed enum: clients switch on these, so new
// failure modes must reuse an existing code or extend the list here.
//
// The mixed casing is part of the wire contract (SESSION_EXPIRED and the
// game codes predate the lower-case convention).
const (
	CodeInvalidRequest  = "invalid_request"
	CodeUnknownType     = "unknown_type"
	CodeMissingType     = "missing_type"
	CodePayloadTooLarge = "payload_too_large"
	CodeRateLimited     = "rate_limited"
	CodeRoomFull        = "room_full"
	CodeSessionExpired  = "SESSION_EXPIRED"
	CodeNotHost         = "NOT_HOST"
	CodeInvalidInit     = "INVALID_INIT"
	CodeInvalidState    = "INVALID_STATE"
	CodeInvalidEvent    = "INVALID_EVENT"
	CodeInternalError   = "internal_error"
)

// WireError is the handler-level failure result. The router converts it into
// a normalized error frame addressed to the sender; it never cascades to
// other participants.
type WireError struct {
	Code    string
	Message string
}

func (e *WireError) Error() string {
	return e.Code + ": " + e.Message
}

// NewWireError builds a WireError for the given code and message.
func NewWireError(code, message string) *WireError {
	return &WireError{Code: code, Message: message}
}
