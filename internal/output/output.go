// Package output writes accepted telegrams to the user.
//
// The text format reproduces what the router tools have always printed:
// the selected bytes followed by a newline. When the destination is a
// terminal, control bytes are escaped so a telegram cannot drive the
// terminal. The hex and cbor formats are for scripts.
package output

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/term"

	"github.com/insys-icom/mcip-tool/internal/telegram"
)

// Format selects how telegrams are written.
type Format int

const (
	Text Format = iota
	Hex
	CBOR
)

func (f Format) String() string {
	switch f {
	case Text:
		return "text"
	case Hex:
		return "hex"
	case CBOR:
		return "cbor"
	default:
		return "unknown"
	}
}

// ParseFormat is the inverse of Format.String.
func ParseFormat(s string) (Format, error) {
	for _, f := range []Format{Text, Hex, CBOR} {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown output format %q (want text, hex or cbor)", s)
}

// Record is the cbor form of one telegram.
type Record struct {
	Destination uint16 `cbor:"dst"`
	Source      uint16 `cbor:"src"`
	Length      int    `cbor:"len"`
	Kind        string `cbor:"kind,omitempty"`
	Payload     []byte `cbor:"payload"`
}

// encMode uses Core Deterministic Encoding so the same telegram always
// produces the same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("output: CBOR encoder initialization failed: " + err.Error())
	}
}

// Writer emits telegrams in one format. Safe for concurrent use.
type Writer struct {
	format Format
	layout telegram.Layout
	escape bool

	mu  sync.Mutex
	w   io.Writer
	enc *cbor.Encoder
}

// New creates a Writer. layout locates the event kind for cbor records.
// Escaping is enabled when w is a terminal.
func New(w io.Writer, format Format, layout telegram.Layout) *Writer {
	return &Writer{
		format: format,
		layout: layout,
		escape: IsTerminal(w),
		w:      w,
		enc:    encMode.NewEncoder(w),
	}
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// Emit writes payload, the bytes the listening mode selected from f.
func (w *Writer) Emit(f telegram.Frame, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.format {
	case Hex:
		_, err := fmt.Fprintln(w.w, hex.EncodeToString(payload))
		return err
	case CBOR:
		return w.enc.Encode(w.record(f, payload))
	default:
		line := payload
		if w.escape {
			line = Escape(payload)
		}
		buf := make([]byte, 0, len(line)+1)
		buf = append(append(buf, line...), '\n')
		_, err := w.w.Write(buf)
		return err
	}
}

func (w *Writer) record(f telegram.Frame, payload []byte) Record {
	r := Record{Length: f.Declared, Payload: payload}
	if h, err := f.Header(); err == nil {
		r.Destination = h.Destination
		r.Source = h.Source
	}
	if k, ok := w.layout.Kind(f); ok && (k == telegram.KindInputChange || k == telegram.KindPulse) {
		r.Kind = string(rune(k))
	}
	return r
}

// Escape replaces control bytes and DEL with \xNN. Tabs pass through.
func Escape(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if (c < 0x20 && c != '\t') || c == 0x7f {
			out = append(out, fmt.Sprintf(`\x%02x`, c)...)
			continue
		}
		out = append(out, c)
	}
	return out
}
