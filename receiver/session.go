package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/willf/bitset"
	"go.uber.org/zap"

	"github.com/minmunui/network-lab/message"
	"github.com/minmunui/network-lab/shared"
	"github.com/minmunui/network-lab/statemachine"
	"github.com/minmunui/network-lab/stats"
)

// ErrTotalMismatch is the only fatal protocol violation the receiver
// recognizes: a FIN whose total differs from an earlier FIN of the same
// session.
var ErrTotalMismatch = errors.New("FIN total changed mid-session")

// session is the explicit per-peer state: it lives from the first
// datagram of a new peer until an ACK is sent or the session aborts.
type session struct {
	r    *Receiver
	peer *net.UDPAddr

	received  *bitset.BitSet
	payloads  map[uint32][]byte
	bytes     int64
	total     uint32
	haveTotal bool

	rounds  int
	dropped int
	started time.Time
	elapsed time.Duration

	err error
}

func newSession(r *Receiver) *session {
	return &session{
		r:        r,
		received: bitset.New(0),
		payloads: make(map[uint32][]byte),
	}
}

// run drives the accumulate/await-retransmission loop until a FIN finds
// the missing set empty, the session aborts, or ctx expires.
func (s *session) run(ctx context.Context) error {
	sm := statemachine.New(s.accumulating)
	buf := make([]byte, shared.MaxDatagramSize)
	for {
		deadline := time.Now().Add(s.r.readTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := s.r.conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, addr, err := s.r.conn.ReadFromUDP(buf)
		var ev statemachine.Event
		switch {
		case err == nil:
			s.touch(addr)
			pkt, derr := s.r.enc.Decode(buf[:n])
			if derr != nil {
				// Malformed datagrams are discarded; the session
				// stays in its current state.
				s.r.logger.Debug("discarding datagram", zap.Error(derr))
				continue
			}
			ev = statemachine.Event{Packet: pkt, From: addr}
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			var nerr net.Error
			if !errors.As(err, &nerr) || !nerr.Timeout() {
				return fmt.Errorf("read datagram: %w", err)
			}
			ev = statemachine.Event{Timeout: true}
		}
		if !sm.Transition(ev) {
			return s.err
		}
	}
}

// touch pins the session to the first peer seen and starts the clock.
// Later datagrams are attributed to the open session regardless of
// origin; concurrent senders are out of scope.
func (s *session) touch(addr *net.UDPAddr) {
	if s.peer != nil {
		return
	}
	s.peer = addr
	s.started = s.r.clock.Now()
	s.r.logger.Info("session opened", zap.Stringer("peer", addr))
}

// accumulating gathers DATA until a FIN triggers the missing-check.
func (s *session) accumulating(ev statemachine.Event) statemachine.StateFn {
	if ev.Timeout {
		return s.accumulating
	}
	switch ev.Packet.Kind {
	case message.DATA:
		s.recordSegment(ev.Packet.Payload.(message.Segment))
		return s.accumulating
	case message.FIN:
		return s.handleFin(ev.Packet.Payload.(message.Fin).Total)
	}
	s.r.logger.Debug("ignoring unexpected packet", zap.Stringer("kind", ev.Packet.Kind))
	return s.accumulating
}

// awaitingRetransmission is entered after a NACK. Further DATA moves the
// session back to accumulating; a timed-out wait re-NACKs whatever is
// still missing.
func (s *session) awaitingRetransmission(ev statemachine.Event) statemachine.StateFn {
	if ev.Timeout {
		if len(s.missing()) == 0 {
			// All segments arrived but the closing FIN has not; ACK so
			// the blocked sender can finish.
			return s.complete()
		}
		s.r.logger.Info("timed out awaiting retransmission, re-sending NACK")
		return s.sendNack()
	}
	switch ev.Packet.Kind {
	case message.DATA:
		s.recordSegment(ev.Packet.Payload.(message.Segment))
		return s.accumulating
	case message.FIN:
		return s.handleFin(ev.Packet.Payload.(message.Fin).Total)
	}
	s.r.logger.Debug("ignoring unexpected packet", zap.Stringer("kind", ev.Packet.Kind))
	return s.awaitingRetransmission
}

// recordSegment runs the loss oracle, then inserts the segment
// idempotently: bytes are counted only the first time a sequence number
// is seen.
func (s *session) recordSegment(seg message.Segment) {
	if s.r.oracle.ShouldDrop(seg.Seq) {
		s.dropped++
		return
	}
	if s.haveTotal && seg.Seq >= s.total {
		s.r.logger.Warn("discarding out-of-range segment",
			zap.Uint32("seq", seg.Seq), zap.Uint32("total", s.total))
		return
	}
	if s.received.Test(uint(seg.Seq)) {
		return
	}
	s.received.Set(uint(seg.Seq))
	s.payloads[seg.Seq] = seg.Data
	s.bytes += int64(len(seg.Data))
}

func (s *session) handleFin(total uint32) statemachine.StateFn {
	if s.haveTotal && total != s.total {
		s.err = fmt.Errorf("%w: announced %d, then %d", ErrTotalMismatch, s.total, total)
		s.r.logger.Error("aborting session", zap.Error(s.err))
		return nil
	}
	if !s.haveTotal {
		s.haveTotal = true
		s.total = total
		s.pruneOutOfRange()
	}
	if len(s.missing()) == 0 {
		return s.complete()
	}
	return s.sendNack()
}

func (s *session) sendNack() statemachine.StateFn {
	missing := s.missing()
	s.rounds++
	s.r.logger.Info("requesting retransmission",
		zap.Int("round", s.rounds), zap.Int("missing", len(missing)))
	if _, err := shared.SendPacketTo(message.NewNack(missing), s.r.conn, s.peer, s.r.enc); err != nil {
		s.err = fmt.Errorf("send NACK: %w", err)
		return nil
	}
	return s.awaitingRetransmission
}

func (s *session) complete() statemachine.StateFn {
	if _, err := shared.SendPacketTo(message.NewAck(), s.r.conn, s.peer, s.r.enc); err != nil {
		s.err = fmt.Errorf("send ACK: %w", err)
		return nil
	}
	s.elapsed = s.r.clock.Since(s.started)
	return nil
}

// missing returns [0, total) minus the received set, ascending.
func (s *session) missing() []uint32 {
	if !s.haveTotal {
		return nil
	}
	var missing []uint32
	for seq := uint32(0); seq < s.total; seq++ {
		if !s.received.Test(uint(seq)) {
			missing = append(missing, seq)
		}
	}
	return missing
}

// pruneOutOfRange drops segments recorded before the first FIN fixed the
// range. Only a misbehaving sender produces them.
func (s *session) pruneOutOfRange() {
	for seq := range s.payloads {
		if seq >= s.total {
			s.bytes -= int64(len(s.payloads[seq]))
			s.received.Clear(uint(seq))
			delete(s.payloads, seq)
		}
	}
}

// reassemble concatenates the payloads in sequence order. Ordering is
// enforced only here, at the end of the transfer.
func (s *session) reassemble() []byte {
	out := make([]byte, 0, s.bytes)
	for seq := uint32(0); seq < s.total; seq++ {
		out = append(out, s.payloads[seq]...)
	}
	return out
}

func (s *session) stats() stats.ReceiverStats {
	if s.elapsed == 0 && !s.started.IsZero() {
		// Aborted mid-session; report elapsed time up to the abort.
		s.elapsed = s.r.clock.Since(s.started)
	}
	return stats.ReceiverStats{
		BytesReceived:    s.bytes,
		SegmentsReceived: int(s.received.Count()),
		Dropped:          s.dropped,
		Rounds:           s.rounds,
		Elapsed:          s.elapsed,
	}
}
