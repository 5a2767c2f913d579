package domain

// ConnectionStatus is the lifecycle state of a feed client.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusReconnecting:
		return "RECONNECTING"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON payloads.
func (s ConnectionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FeedStatus is a status change published for one exchange.
type FeedStatus struct {
	Exchange Exchange         `json:"exchange"`
	Status   ConnectionStatus `json:"status"`
	Error    string           `json:"error,omitempty"`
}
