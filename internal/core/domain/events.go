package domain

import "time"

// TransportEventKind enumerates notifications raised by the media server.
type TransportEventKind int

const (
	EventConnectionStarted TransportEventKind = iota
	EventConnectionSuccess
	EventConnectionFailed
	EventDisconnected
	EventAuthError
	EventAuthSuccess
	EventBitrateChanged
	EventViewerConnected
	EventViewerDisconnected
)

func (k TransportEventKind) String() string {
	switch k {
	case EventConnectionStarted:
		return "connection_started"
	case EventConnectionSuccess:
		return "connection_success"
	case EventConnectionFailed:
		return "connection_failed"
	case EventDisconnected:
		return "disconnected"
	case EventAuthError:
		return "auth_error"
	case EventAuthSuccess:
		return "auth_success"
	case EventBitrateChanged:
		return "bitrate_changed"
	case EventViewerConnected:
		return "viewer_connected"
	case EventViewerDisconnected:
		return "viewer_disconnected"
	default:
		return "unknown"
	}
}

// TransportEvent is a single transport notification. Generation identifies
// the media server instance that raised it.
type TransportEvent struct {
	Kind       TransportEventKind
	URL        string
	Reason     string
	Address    string
	Bitrate    int64
	Generation uint64
	At         time.Time
}

func ConnectionStarted(url string) TransportEvent {
	return TransportEvent{Kind: EventConnectionStarted, URL: url, At: time.Now()}
}

func ConnectionSuccess() TransportEvent {
	return TransportEvent{Kind: EventConnectionSuccess, At: time.Now()}
}

func ConnectionFailed(reason string) TransportEvent {
	return TransportEvent{Kind: EventConnectionFailed, Reason: reason, At: time.Now()}
}

func Disconnected() TransportEvent {
	return TransportEvent{Kind: EventDisconnected, At: time.Now()}
}

func AuthFailed(address string) TransportEvent {
	return TransportEvent{Kind: EventAuthError, Address: address, At: time.Now()}
}

func AuthSucceeded(address string) TransportEvent {
	return TransportEvent{Kind: EventAuthSuccess, Address: address, At: time.Now()}
}

func BitrateChanged(bps int64) TransportEvent {
	return TransportEvent{Kind: EventBitrateChanged, Bitrate: bps, At: time.Now()}
}

func ViewerConnected(address string) TransportEvent {
	return TransportEvent{Kind: EventViewerConnected, Address: address, At: time.Now()}
}

func ViewerDisconnected(address string) TransportEvent {
	return TransportEvent{Kind: EventViewerDisconnected, Address: address, At: time.Now()}
}
