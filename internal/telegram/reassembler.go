package telegram

// Status is the outcome of feeding bytes to a Reassembler.
type Status int

const (
	Incomplete Status = iota
	Complete
)

func (s Status) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Frame is one complete telegram as received from the socket.
type Frame struct {
	// Data holds every byte buffered when the telegram completed. It can
	// extend past Declared when the next telegram arrived in the same read;
	// those trailing bytes are discarded with the frame.
	Data []byte

	// Declared is the length field read through the consumer's Layout.
	Declared int
}

// Header decodes the fixed header of the frame.
func (f Frame) Header() (Header, error) {
	return ParseHeader(f.Data)
}

// Reassembler accumulates bytes from one socket into a fixed 1500-byte
// buffer until a complete telegram is present.
//
// The declared length is never checked against the buffer capacity. A
// telegram declaring more than MaxSize bytes can never complete; the buffer
// fills, Space returns an empty slice, and only Reset (done by the session on
// reconnect) recovers.
//
// Reassembler is not safe for concurrent use; it is owned by one session.
type Reassembler struct {
	buf    [MaxSize]byte
	n      int
	layout Layout
}

// NewReassembler creates an empty reassembler reading lengths through layout.
func NewReassembler(layout Layout) *Reassembler {
	return &Reassembler{layout: layout}
}

// Space returns the unused tail of the buffer. Read into it, then call Feed
// with the number of bytes read. The slice is empty once the buffer is full.
func (r *Reassembler) Space() []byte {
	return r.buf[r.n:]
}

// Len returns the number of buffered bytes.
func (r *Reassembler) Len() int {
	return r.n
}

// Feed records count new bytes written into Space and reports whether a
// complete telegram is now buffered. On Complete the returned Frame owns a
// copy of the buffered bytes and the reassembler is reset to empty.
func (r *Reassembler) Feed(count int) (Frame, Status) {
	r.n = min(r.n+max(count, 0), MaxSize)

	if r.n < r.layout.Threshold() {
		return Frame{}, Incomplete
	}
	declared := r.layout.DeclaredLength(r.buf[:r.n])
	if r.n < declared {
		return Frame{}, Incomplete
	}

	data := make([]byte, r.n)
	copy(data, r.buf[:r.n])
	r.Reset()
	return Frame{Data: data, Declared: declared}, Complete
}

// Reset discards all buffered bytes.
func (r *Reassembler) Reset() {
	r.n = 0
}
