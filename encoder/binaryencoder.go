package encoder

import (
	"encoding/binary"
	"fmt"

	"github.com/minmunui/network-lab/message"
)

// Wire layout, all integers big-endian:
//
//	DATA: kind(1) seq(4) payload(rest)
//	FIN:  kind(1) total(4)
//	ACK:  kind(1)
//	NACK: kind(1) count(4) id(4)*count, ids strictly ascending
//
// Payload length is implicit: the datagram length minus the header.
const (
	DataHeaderSize = 5
	finSize        = 5
	ackSize        = 1
	nackHeaderSize = 5
)

// BinaryEncoder is the production wire codec. It is the binary contract
// between independent sender and receiver implementations.
type BinaryEncoder struct{}

func NewBinaryEncoder() BinaryEncoder {
	return BinaryEncoder{}
}

func (BinaryEncoder) Encode(pkt *message.Packet) ([]byte, error) {
	switch pkt.Kind {
	case message.DATA:
		seg, ok := pkt.Payload.(message.Segment)
		if !ok {
			return nil, fmt.Errorf("encode DATA: payload is %T, want message.Segment", pkt.Payload)
		}
		b := make([]byte, DataHeaderSize+len(seg.Data))
		b[0] = byte(message.DATA)
		binary.BigEndian.PutUint32(b[1:], seg.Seq)
		copy(b[DataHeaderSize:], seg.Data)
		return b, nil
	case message.FIN:
		fin, ok := pkt.Payload.(message.Fin)
		if !ok {
			return nil, fmt.Errorf("encode FIN: payload is %T, want message.Fin", pkt.Payload)
		}
		b := make([]byte, finSize)
		b[0] = byte(message.FIN)
		binary.BigEndian.PutUint32(b[1:], fin.Total)
		return b, nil
	case message.ACK:
		return []byte{byte(message.ACK)}, nil
	case message.NACK:
		nack, ok := pkt.Payload.(message.Nack)
		if !ok {
			return nil, fmt.Errorf("encode NACK: payload is %T, want message.Nack", pkt.Payload)
		}
		b := make([]byte, nackHeaderSize+4*len(nack.Missing))
		b[0] = byte(message.NACK)
		binary.BigEndian.PutUint32(b[1:], uint32(len(nack.Missing)))
		for i, seq := range nack.Missing {
			binary.BigEndian.PutUint32(b[nackHeaderSize+4*i:], seq)
		}
		return b, nil
	}
	return nil, fmt.Errorf("encode: unknown message kind %#x", byte(pkt.Kind))
}

func (BinaryEncoder) Decode(data []byte) (*message.Packet, error) {
	if len(data) < 1 {
		return nil, &DecodeError{Reason: "empty datagram"}
	}
	switch message.Kind(data[0]) {
	case message.DATA:
		if len(data) < DataHeaderSize {
			return nil, &DecodeError{Reason: "truncated DATA header"}
		}
		seq := binary.BigEndian.Uint32(data[1:])
		// The read buffer is reused between datagrams, so the payload
		// must be copied out.
		payload := make([]byte, len(data)-DataHeaderSize)
		copy(payload, data[DataHeaderSize:])
		return message.NewData(seq, payload), nil
	case message.FIN:
		if len(data) != finSize {
			return nil, &DecodeError{Reason: "bad FIN length"}
		}
		return message.NewFin(binary.BigEndian.Uint32(data[1:])), nil
	case message.ACK:
		if len(data) != ackSize {
			return nil, &DecodeError{Reason: "bad ACK length"}
		}
		return message.NewAck(), nil
	case message.NACK:
		if len(data) < nackHeaderSize {
			return nil, &DecodeError{Reason: "truncated NACK header"}
		}
		count := binary.BigEndian.Uint32(data[1:])
		if uint64(len(data)) != nackHeaderSize+4*uint64(count) {
			return nil, &DecodeError{Reason: "NACK length does not match id count"}
		}
		missing := make([]uint32, count)
		for i := range missing {
			missing[i] = binary.BigEndian.Uint32(data[nackHeaderSize+4*i:])
			if i > 0 && missing[i] <= missing[i-1] {
				return nil, &DecodeError{Reason: "NACK ids not strictly ascending"}
			}
		}
		return message.NewNack(missing), nil
	}
	return nil, &DecodeError{Reason: fmt.Sprintf("unknown kind %#x", data[0])}
}
