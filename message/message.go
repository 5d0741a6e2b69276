package message

// Kind is the one-byte tag that starts every MIDTP datagram. The values
// preserve the legacy flag encoding, where ACK was sent as FIN|DATA.
type Kind byte

const (
	DATA Kind = 0x01
	FIN  Kind = 0x02
	ACK  Kind = 0x03
	NACK Kind = 0x04
)

func (k Kind) String() string {
	switch k {
	case DATA:
		return "DATA"
	case FIN:
		return "FIN"
	case ACK:
		return "ACK"
	case NACK:
		return "NACK"
	}
	return "UNKNOWN"
}

type Packet struct {
	Kind    Kind
	Payload interface{}
}

// Segment is one unit of payload, identified by a dense sequence number
// in [0, total). All segments share the configured chunk size except the
// final, shorter one.
type Segment struct {
	Seq  uint32
	Data []byte
}

// Fin announces the total segment count for the current pass.
type Fin struct {
	Total uint32
}

// Nack lists the sequence numbers still missing at the receiver,
// strictly ascending, no duplicates.
type Nack struct {
	Missing []uint32
}

func NewData(seq uint32, data []byte) *Packet {
	return &Packet{Kind: DATA, Payload: Segment{Seq: seq, Data: data}}
}

func NewFin(total uint32) *Packet {
	return &Packet{Kind: FIN, Payload: Fin{Total: total}}
}

func NewAck() *Packet {
	return &Packet{Kind: ACK}
}

func NewNack(missing []uint32) *Packet {
	return &Packet{Kind: NACK, Payload: Nack{Missing: missing}}
}
