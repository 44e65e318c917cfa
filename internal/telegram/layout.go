package telegram

import (
	"encoding/binary"
	"fmt"
)

// Layout names the offset convention one consumer uses to read a telegram.
//
// The tools do not agree on a single convention: the generic listener prints
// everything it received, while the event and SMS consumers print a window
// that starts after the header and ends a fixed distance past the declared
// length. Each consumer therefore carries its own Layout rather than sharing
// one universal frame description.
type Layout struct {
	Name string `yaml:"-"`

	// LengthOffset is where the little-endian uint16 declared length starts.
	LengthOffset int `yaml:"length_offset"`

	// MinLength is the number of bytes that must be buffered before the
	// declared length is consulted. The effective threshold is never below
	// LengthOffset+2.
	MinLength int `yaml:"min_length"`

	// PayloadStart is the first byte of the emitted payload window.
	PayloadStart int `yaml:"payload_start"`

	// PayloadEndAdjust is added to the declared length to find the end of
	// the payload window. The end is clamped to the bytes received.
	PayloadEndAdjust int `yaml:"payload_end_adjust"`

	// KindOffset locates the event kind byte.
	KindOffset int `yaml:"kind_offset"`
}

// Built-in layouts.
var (
	GenericLayout = Layout{
		Name:             "generic",
		LengthOffset:     4,
		MinLength:        5,
		PayloadStart:     HeaderSize,
		PayloadEndAdjust: 5,
		KindOffset:       11,
	}
	EventLayout = Layout{
		Name:             "event",
		LengthOffset:     4,
		MinLength:        8,
		PayloadStart:     HeaderSize,
		PayloadEndAdjust: 5,
		KindOffset:       11,
	}
	SMSLayout = Layout{
		Name:             "sms",
		LengthOffset:     4,
		MinLength:        8,
		PayloadStart:     HeaderSize,
		PayloadEndAdjust: 5,
		KindOffset:       11,
	}
)

// Validate checks that every offset lies inside a maximum-size telegram.
func (l Layout) Validate() error {
	switch {
	case l.LengthOffset < 0 || l.LengthOffset+2 > MaxSize:
		return fmt.Errorf("layout %s: length_offset %d out of range", l.Name, l.LengthOffset)
	case l.MinLength < 0 || l.MinLength > MaxSize:
		return fmt.Errorf("layout %s: min_length %d out of range", l.Name, l.MinLength)
	case l.PayloadStart < 0 || l.PayloadStart > MaxSize:
		return fmt.Errorf("layout %s: payload_start %d out of range", l.Name, l.PayloadStart)
	case l.KindOffset < 0 || l.KindOffset >= MaxSize:
		return fmt.Errorf("layout %s: kind_offset %d out of range", l.Name, l.KindOffset)
	}
	return nil
}

// Threshold is the number of buffered bytes below which a telegram is
// always incomplete.
func (l Layout) Threshold() int {
	return max(l.MinLength, l.LengthOffset+2)
}

// DeclaredLength reads the length field from b. Callers must hold at least
// Threshold bytes.
func (l Layout) DeclaredLength(b []byte) int {
	return int(binary.LittleEndian.Uint16(b[l.LengthOffset:]))
}

// Payload returns the payload window of f. The result aliases f.Data.
func (l Layout) Payload(f Frame) []byte {
	end := min(f.Declared+l.PayloadEndAdjust, len(f.Data))
	if l.PayloadStart >= end {
		return f.Data[:0]
	}
	return f.Data[l.PayloadStart:end]
}

// Kind returns the event kind byte, or false if the frame is too short to
// carry one.
func (l Layout) Kind(f Frame) (EventKind, bool) {
	if l.KindOffset >= len(f.Data) {
		return 0, false
	}
	return EventKind(f.Data[l.KindOffset]), true
}
