package runstream

// ConnectionState describes where a stream is in its connect/reconnect cycle.
type ConnectionState int32

const (
	// StateIdle is the state before the first call to Connect.
	StateIdle ConnectionState = iota
	// StateConnecting means a connection attempt is in flight.
	StateConnecting
	// StateOpen means the daemon accepted the stream and messages are being delivered.
	StateOpen
	// StateReconnecting means the last transport failed and a reconnect is scheduled.
	StateReconnecting
	// StateClosed is reached by Disconnect only. Connect may be called again afterwards.
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
