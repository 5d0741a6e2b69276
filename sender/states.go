package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/minmunui/network-lab/message"
	"github.com/minmunui/network-lab/shared"
	"github.com/minmunui/network-lab/shared/transfer"
	"github.com/minmunui/network-lab/statemachine"
)

// sendPending fire-and-forgets every pending segment in ascending order,
// then announces the FIN. Sequence numbers beyond the segment range are
// skipped rather than failing the transfer.
func (t *Transfer) sendPending() error {
	sent := 0
	for _, seq := range t.pending {
		if int(seq) >= len(t.segments) {
			continue
		}
		data := t.segments[seq]
		if _, err := shared.SendPacket(message.NewData(seq, data), t.conn, t.enc); err != nil {
			return fmt.Errorf("send segment %d: %w", seq, err)
		}
		t.totalSent++
		t.bytesSent += int64(len(data))
		sent++
	}
	if _, err := shared.SendPacket(message.NewFin(uint32(len(t.segments))), t.conn, t.enc); err != nil {
		return fmt.Errorf("send FIN: %w", err)
	}
	t.logger.Debug("pass sent", zap.Int("segments", sent), zap.Int("round", t.rounds))
	return nil
}

// nextEvent blocks for the next decodable control datagram, or a
// timeout. Malformed datagrams are discarded without leaving the
// current state.
func (t *Transfer) nextEvent(ctx context.Context, buf []byte) (statemachine.Event, error) {
	for {
		deadline := time.Now().Add(t.timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return statemachine.Event{}, fmt.Errorf("set read deadline: %w", err)
		}
		n, err := t.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return statemachine.Event{}, ctx.Err()
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return statemachine.Event{Timeout: true}, nil
			}
			return statemachine.Event{}, fmt.Errorf("read response: %w", err)
		}
		pkt, derr := t.enc.Decode(buf[:n])
		if derr != nil {
			t.logger.Debug("discarding datagram", zap.Error(derr))
			continue
		}
		return statemachine.Event{Packet: pkt, From: t.conn.RemoteAddr()}, nil
	}
}

// awaitingResponse handles the receiver's verdict on the last pass. A
// timeout is treated like a NACK for the current pending set, so a
// silent receiver costs a round instead of blocking forever.
func (t *Transfer) awaitingResponse(ev statemachine.Event) statemachine.StateFn {
	if ev.Timeout {
		t.logger.Warn("no response from receiver",
			zap.Duration("timeout", t.timeout), zap.Int("round", t.rounds))
		return t.retransmit()
	}
	switch ev.Packet.Kind {
	case message.ACK:
		t.report(transfer.Progress("transfer complete"))
		return nil
	case message.NACK:
		nack := ev.Packet.Payload.(message.Nack)
		t.pending = nack.Missing
		t.report(transfer.Progress(fmt.Sprintf("%d segments lost, retransmitting", len(nack.Missing))))
		return t.retransmit()
	}
	t.logger.Debug("ignoring unexpected packet", zap.Stringer("kind", ev.Packet.Kind))
	return t.awaitingResponse
}

// retransmit starts the next round unless the round limit is exhausted.
func (t *Transfer) retransmit() statemachine.StateFn {
	if t.rounds+1 > t.maxRounds {
		t.err = fmt.Errorf("%w: %d segments still outstanding after round %d",
			ErrRoundsExhausted, len(t.pending), t.rounds)
		return nil
	}
	t.rounds++
	t.logger.Info("retransmission round",
		zap.Int("round", t.rounds), zap.Int("segments", len(t.pending)))
	if err := t.sendPending(); err != nil {
		t.err = err
		return nil
	}
	return t.awaitingResponse
}
