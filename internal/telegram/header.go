package telegram

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrTooLarge    = errors.New("telegram exceeds maximum size")
	ErrShortHeader = errors.New("telegram shorter than header")
)

// Header is the fixed 7-byte prefix of every bus telegram.
type Header struct {
	Destination uint16
	Source      uint16
	Length      uint16 // total frame length including the header
	Command     Command
}

// ParseHeader decodes the header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		Destination: binary.LittleEndian.Uint16(b[0:2]),
		Source:      binary.LittleEndian.Uint16(b[2:4]),
		Length:      binary.LittleEndian.Uint16(b[4:6]),
		Command:     Command(b[6]),
	}, nil
}

// Encode builds a complete telegram. The Length field of h is ignored and
// computed from the payload.
func Encode(h Header, payload []byte) ([]byte, error) {
	total := HeaderSize + len(payload)
	if total > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, total)
	}
	buf := make([]byte, total)
	binary.LittleEndian.PutUint16(buf[0:2], h.Destination)
	binary.LittleEndian.PutUint16(buf[2:4], h.Source)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(total))
	buf[6] = byte(h.Command)
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// WriteTelegram encodes and writes one telegram to w in a single Write call,
// so a datagram-like peer never sees a split header.
func WriteTelegram(w io.Writer, h Header, payload []byte) error {
	buf, err := Encode(h, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadTelegram reads exactly one telegram from a stream whose frames use the
// header's Length field as the total frame length. Used by peers that speak
// the bus side of the socket; the listening tools use Reassembler instead.
func ReadTelegram(r io.Reader) (Header, []byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Header{}, nil, err
	}
	h, _ := ParseHeader(hdr[:])
	if int(h.Length) > MaxSize {
		return Header{}, nil, fmt.Errorf("%w: declared %d bytes", ErrTooLarge, h.Length)
	}
	if h.Length < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: declared %d bytes", ErrShortHeader, h.Length)
	}

	payload := make([]byte, int(h.Length)-HeaderSize)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Header{}, nil, err
		}
	}
	return h, payload, nil
}

// EncodeOIDs packs identifiers as consecutive little-endian uint16 values,
// the payload of a register telegram.
func EncodeOIDs(ids []uint16) []byte {
	buf := make([]byte, 2*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint16(buf[2*i:], id)
	}
	return buf
}

// DecodeOIDs is the inverse of EncodeOIDs. A trailing odd byte is ignored.
func DecodeOIDs(b []byte) []uint16 {
	ids := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		ids = append(ids, binary.LittleEndian.Uint16(b[i:]))
	}
	return ids
}
