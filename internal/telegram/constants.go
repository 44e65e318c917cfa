package telegram

// Maximum telegram size on the bus socket. The reassembly buffer has
// exactly this capacity.
const MaxSize = 1500

// Header: [2B destination][2B source][2B total length][1B command], all little-endian.
const HeaderSize = 7

// Command identifies what an outbound telegram asks of the bus.
type Command byte

const (
	CmdRegister   Command = 0x01
	CmdDeregister Command = 0x02
	CmdWrite      Command = 0x03
)

func (c Command) String() string {
	switch c {
	case CmdRegister:
		return "register"
	case CmdDeregister:
		return "deregister"
	case CmdWrite:
		return "write"
	default:
		return "unknown"
	}
}

// EventKind is the single-character tag carried by router event telegrams.
type EventKind byte

const (
	KindInputChange EventKind = 'i'
	KindPulse       EventKind = 'p'
)

// Well-known OIDs.
const (
	OIDBus    uint16 = 0 // the bus itself, target of register/deregister
	OIDRouter uint16 = 2 // default destination for written telegrams
)
