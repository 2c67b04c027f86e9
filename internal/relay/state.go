package relay

// State is the connection manager state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingProtocol
	StateRegistering
	StateReady
)

var stateNames = [...]string{
	StateDisconnected:     "disconnected",
	StateConnecting:       "connecting",
	StateAwaitingProtocol: "awaiting_protocol",
	StateRegistering:      "registering",
	StateReady:            "ready",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
