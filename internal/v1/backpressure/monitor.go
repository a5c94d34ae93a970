// Package backpressure classifies outbound queue depth per connection and
// decides which kinds may be shed when a consumer falls behind.
package backpressure

// Status is the queue-depth classification for a connection.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Byte thresholds for the classification. Exported so the transport can
// size its queues against them.
const (
	WarningBytes  = 512 * 1024
	CriticalBytes = 1024 * 1024
)

// droppableKinds are the high-churn kinds a slow consumer can afford to
// lose: ICE re-trickles, counts are resent on the next change, and game
// state is reconstructed from the full snapshot at join/resume.
var droppableKinds = map[string]bool{
	"ice_candidate":            true,
	"participant_count_update": true,
	"game_state":               true,
}

// Classify maps buffered outbound bytes to a status.
func Classify(bufferedBytes int64) Status {
	switch {
	case bufferedBytes >= CriticalBytes:
		return StatusCritical
	case bufferedBytes >= WarningBytes:
		return StatusWarning
	default:
		return StatusOK
	}
}

// ShouldDrop reports whether a frame of the given kind should be shed for a
// connection with the given queue depth. Critical kinds are never dropped
// here; the transport escalates instead.
func ShouldDrop(bufferedBytes int64, kind string) bool {
	return Classify(bufferedBytes) == StatusCritical && droppableKinds[kind]
}
