package protocol

import "encoding/json"

const (
	// MaxFrameBytes bounds a single inbound JSON payload.
	MaxFrameBytes = 64 * 1024

	// MaxTypeLength bounds the envelope type discriminator.
	MaxTypeLength = 50
)

// Envelope is the wire-layer header shared by every inbound message. The
// type-specific fields stay in the raw payload and are decoded per handler.
type Envelope struct {
	Type  string `json:"type"`
	MsgID string `json:"msgId,omitempty"`
	Seq   uint32 `json:"seq,omitempty"`
	Ts    int64  `json:"ts,omitempty"`
}

// ParseEnvelope validates the wire layer of an inbound frame: JSON object
// shape, payload size, and the type discriminator. On failure it returns a
// WireError whose code matches the envelope taxonomy; the decoded field map
// is returned for schema validation.
func ParseEnvelope(data []byte) (*Envelope, map[string]any, *WireError) {
	if len(data) > MaxFrameBytes {
		return nil, nil, NewWireError(CodePayloadTooLarge, "payload exceeds 64KiB limit")
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, nil, NewWireError(CodeInvalidRequest, "message must be a JSON object")
	}

	rawType, ok := fields["type"]
	if !ok {
		return nil, fields, NewWireError(CodeMissingType, "message has no type")
	}
	msgType, ok := rawType.(string)
	if !ok || msgType == "" {
		return nil, fields, NewWireError(CodeMissingType, "type must be a non-empty string")
	}
	if len(msgType) > MaxTypeLength {
		return nil, fields, NewWireError(CodeInvalidRequest, "type exceeds maximum length")
	}

	env := &Envelope{Type: msgType}
	if v, ok := fields["msgId"].(string); ok {
		env.MsgID = v
	}
	if v, ok := fields["seq"].(float64); ok && v >= 0 {
		env.Seq = uint32(v)
	}
	if v, ok := fields["ts"].(float64); ok {
		env.Ts = int64(v)
	}
	return env, fields, nil
}
