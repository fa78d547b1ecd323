package connectivity

import (
	"context"
	"fmt"
	"strings"
)

// Signal is the observer's view of the network path.
type Signal int

const (
	// SignalNone means no usable network path.
	SignalNone Signal = iota
	// SignalWiFi is an unmetered path (wifi, ethernet).
	SignalWiFi
	// SignalCellular is a metered path (wwan, cellular modem).
	SignalCellular
)

// String returns the signal name.
func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case SignalWiFi:
		return "wifi-like"
	case SignalCellular:
		return "cellular-like"
	default:
		return fmt.Sprintf("Signal(%d)", int(s))
	}
}

// HasPath collapses the signal to the boolean the tracker works on.
func (s Signal) HasPath() bool {
	return s != SignalNone
}

// ParseSignal parses a signal name. "wifi" and "cellular" are accepted as
// short forms.
func ParseSignal(s string) (Signal, error) {
	switch strings.ToLower(s) {
	case "none", "offline":
		return SignalNone, nil
	case "wifi-like", "wifi":
		return SignalWiFi, nil
	case "cellular-like", "cellular":
		return SignalCellular, nil
	default:
		return SignalNone, fmt.Errorf("unknown signal %q", s)
	}
}

// State is the tracker's two-state verdict.
type State int

const (
	// Offline means no network path.
	Offline State = iota
	// Online means a network path exists.
	Online
)

// String returns the state name.
func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// MarshalText renders the state name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func stateOf(online bool) State {
	if online {
		return Online
	}
	return Offline
}

// Observer is the platform source of connectivity signals.
type Observer interface {
	// CurrentSignal queries the platform once. May be expensive.
	CurrentSignal(ctx context.Context) (Signal, error)

	// Subscribe registers fn for change notifications. The returned func
	// removes the subscription. fn must not block.
	Subscribe(fn func(Signal)) (unsubscribe func())
}
