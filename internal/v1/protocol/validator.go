package protocol

import "fmt"

// schema describes the per-type payload contract: which fields must be
// present as non-empty strings, and per-field length caps.
type schema struct {
	required []string
	maxLen   map[string]int
}

// schemas is the complete inbound message catalog. A type absent from this
// table is rejected with unknown_type before any handler runs.
var schemas = map[string]schema{
	"ping":          {},
	"echo":          {},
	"join_stream":   {required: []string{"streamId", "userId"}, maxLen: map[string]int{"streamId": 100, "userId": 100}},
	"leave_stream":  {},
	"resume":        {required: []string{"sessionToken"}, maxLen: map[string]int{"sessionToken": 200, "roomId": 100}},
	"webrtc_offer":  {required: []string{"toUserId", "fromUserId", "sdp"}, maxLen: map[string]int{"toUserId": 100, "fromUserId": 100}},
	"webrtc_answer": {required: []string{"toUserId", "fromUserId", "sdp"}, maxLen: map[string]int{"toUserId": 100, "fromUserId": 100}},
	"ice_candidate": {required: []string{"toUserId", "fromUserId", "candidate"}, maxLen: map[string]int{"toUserId": 100, "fromUserId": 100}},

	"request_offer":    {},
	"request_keyframe": {},

	"cohost_request": {},
	"cohost_cancel":  {},
	"cohost_accept":  {required: []string{"streamId", "guestUserId"}, maxLen: map[string]int{"streamId": 100, "guestUserId": 100}},
	"cohost_decline": {required: []string{"streamId", "viewerUserId"}, maxLen: map[string]int{"streamId": 100, "viewerUserId": 100}},
	"cohost_end":     {required: []string{"streamId", "by"}},
	"cohost_mute":    {required: []string{"streamId", "target"}},
	"cohost_unmute":  {required: []string{"streamId", "target"}},
	"cohost_cam_off": {required: []string{"streamId", "target"}},
	"cohost_cam_on":  {required: []string{"streamId", "target"}},

	"game_init":  {required: []string{"streamId", "gameId"}, maxLen: map[string]int{"gameId": 100}},
	"game_state": {required: []string{"streamId"}},
	"game_event": {required: []string{"streamId", "eventType"}},
}

// allowedFields is the sanitization allow-list: everything not listed here
// for a known type is stripped before the handler sees the message, which
// prevents field injection through relayed payloads.
var allowedFields = map[string]map[string]bool{
	"ping":             fieldSet("ts"),
	"echo":             fieldSet("payload"),
	"join_stream":      fieldSet("streamId", "userId"),
	"leave_stream":     fieldSet(),
	"resume":           fieldSet("sessionToken", "roomId"),
	"webrtc_offer":     fieldSet("toUserId", "fromUserId", "sdp"),
	"webrtc_answer":    fieldSet("toUserId", "fromUserId", "sdp"),
	"ice_candidate":    fieldSet("toUserId", "fromUserId", "candidate"),
	"request_offer":    fieldSet("toUserId"),
	"request_keyframe": fieldSet("toUserId"),
	"cohost_request":   fieldSet(),
	"cohost_cancel":    fieldSet(),
	"cohost_accept":    fieldSet("streamId", "guestUserId"),
	"cohost_decline":   fieldSet("streamId", "viewerUserId", "reason"),
	"cohost_end":       fieldSet("streamId", "by"),
	"cohost_mute":      fieldSet("streamId", "target"),
	"cohost_unmute":    fieldSet("streamId", "target"),
	"cohost_cam_off":   fieldSet("streamId", "target"),
	"cohost_cam_on":    fieldSet("streamId", "target"),
	"game_init":        fieldSet("streamId", "gameId", "version", "seed"),
	"game_state":       fieldSet("streamId", "version", "full", "patch"),
	"game_event":       fieldSet("streamId", "eventType", "payload"),
}

func fieldSet(names ...string) map[string]bool {
	s := make(map[string]bool, len(names)+4)
	for _, n := range names {
		s[n] = true
	}
	// Envelope fields survive sanitization for every type.
	s["type"] = true
	s["msgId"] = true
	s["seq"] = true
	s["ts"] = true
	return s
}

// KnownType reports whether msgType is in the catalog.
func KnownType(msgType string) bool {
	_, ok := schemas[msgType]
	return ok
}

// Validate checks the per-type schema against the decoded field map.
// Required fields must be present, non-empty strings; capped fields must fit
// their limits. The returned WireError carries invalid_request.
func Validate(msgType string, fields map[string]any) *WireError {
	sc, ok := schemas[msgType]
	if !ok {
		return NewWireError(CodeUnknownType, fmt.Sprintf("unknown message type %q", msgType))
	}

	for _, name := range sc.required {
		v, present := fields[name]
		if !present || v == nil {
			return NewWireError(CodeInvalidRequest, fmt.Sprintf("missing required field %q", name))
		}
		if s, isString := v.(string); isString && s == "" {
			return NewWireError(CodeInvalidRequest, fmt.Sprintf("field %q must not be empty", name))
		}
	}

	for name, limit := range sc.maxLen {
		if s, ok := fields[name].(string); ok && len(s) > limit {
			return NewWireError(CodeInvalidRequest, fmt.Sprintf("field %q exceeds %d characters", name, limit))
		}
	}

	return nil
}

// Sanitize strips every field not on the allow-list for the given type.
// The map is mutated in place and returned for convenience.
func Sanitize(msgType string, fields map[string]any) map[string]any {
	allowed, ok := allowedFields[msgType]
	if !ok {
		return fields
	}
	for name := range fields {
		if !allowed[name] {
			delete(fields, name)
		}
	}
	return fields
}
