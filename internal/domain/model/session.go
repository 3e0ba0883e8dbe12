package model

// SessionState is the lifecycle stage of a hub session.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateHandshaking
	StateReady
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
