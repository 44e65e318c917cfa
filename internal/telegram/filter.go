package telegram

import "fmt"

// Mode is the listening mode of one invocation. It never changes while a
// session runs.
type Mode int

const (
	Passthrough Mode = iota // every telegram, all received bytes
	InputChange             // only event kind 'i', payload window
	Pulse                   // only event kind 'p', payload window
	SMSExtract              // every telegram, payload window
)

func (m Mode) String() string {
	switch m {
	case Passthrough:
		return "passthrough"
	case InputChange:
		return "input-change"
	case Pulse:
		return "pulse"
	case SMSExtract:
		return "sms-extract"
	default:
		return "unknown"
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{Passthrough, InputChange, Pulse, SMSExtract} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown listening mode %q", s)
}

// Filter decides which complete telegrams are emitted and what part of them.
// It is a pure function of the frame, the mode and the layout.
type Filter struct {
	Mode   Mode
	Layout Layout
}

// Accept returns the bytes to emit for f, or false if the mode rejects it.
// The returned slice aliases f.Data.
func (flt Filter) Accept(f Frame) ([]byte, bool) {
	switch flt.Mode {
	case Passthrough:
		return f.Data, true
	case InputChange:
		return flt.acceptKind(f, KindInputChange)
	case Pulse:
		return flt.acceptKind(f, KindPulse)
	case SMSExtract:
		return flt.Layout.Payload(f), true
	default:
		return nil, false
	}
}

func (flt Filter) acceptKind(f Frame, want EventKind) ([]byte, bool) {
	kind, ok := flt.Layout.Kind(f)
	if !ok || kind != want {
		return nil, false
	}
	return flt.Layout.Payload(f), true
}
