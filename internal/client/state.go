package client

// State is a Connection's position in the handshake/shutdown state
// machine (spec §4.3).
type State int

const (
	StateInitialize State = iota
	StateHandshakeSend
	StateHandshakeGetResponse
	StateReady
	StateShutdown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitialize:
		return "INITIALIZE"
	case StateHandshakeSend:
		return "HANDSHAKE_SEND"
	case StateHandshakeGetResponse:
		return "HANDSHAKE_GET_RESPONSE"
	case StateReady:
		return "READY"
	case StateShutdown:
		return "SHUTDOWN"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
