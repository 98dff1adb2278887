package exchange

import "fmt"

// ConnectionState represents the state of a venue supervisor
// (for health checks and monitoring)
type ConnectionState int

const (
	Idle ConnectionState = iota
	Connecting
	Subscribing
	Streaming
	Reconnecting
	Closing
	Failed
)

var stateNames = [...]string{
	Idle:         "idle",
	Connecting:   "connecting",
	Subscribing:  "subscribing",
	Streaming:    "streaming",
	Reconnecting: "reconnecting",
	Closing:      "closing",
	Failed:       "failed",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
