// Package sender implements the MIDTP send side: it partitions a buffer
// into segments, fires them all at the receiver followed by a FIN, and
// resends exactly the segments each NACK cites until an ACK arrives or
// the round limit is reached.
package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/minmunui/network-lab/encoder"
	"github.com/minmunui/network-lab/shared"
	"github.com/minmunui/network-lab/shared/transfer"
	"github.com/minmunui/network-lab/statemachine"
	"github.com/minmunui/network-lab/stats"
)

// MaxRounds bounds the retransmission rounds of one transfer. A NACK or
// response timeout that would start round MaxRounds+1 fails the transfer.
const MaxRounds = 10

// ErrRoundsExhausted reports a transfer that did not complete within
// MaxRounds. Statistics up to that point are still returned.
var ErrRoundsExhausted = errors.New("retransmission rounds exhausted")

type Opt func(*Transfer)

func WithLogger(logger *zap.Logger) Opt {
	return func(t *Transfer) {
		t.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Opt {
	return func(t *Transfer) {
		t.clock = clock
	}
}

// WithResponseTimeout bounds each wait for the receiver's ACK/NACK. A
// timed-out wait counts as a round: the pending segments and the FIN are
// re-sent, so a lost control response cannot block the sender forever.
func WithResponseTimeout(d time.Duration) Opt {
	return func(t *Transfer) {
		t.timeout = d
	}
}

func WithMaxRounds(n int) Opt {
	return func(t *Transfer) {
		t.maxRounds = n
	}
}

// WithProgress registers a callback for human-readable transfer status.
func WithProgress(fn func(transfer.Progress)) Opt {
	return func(t *Transfer) {
		t.progress = fn
	}
}

// Transfer owns the segments of one outbound transfer for its whole
// lifetime; retransmissions are served from the retained set, never
// regenerated.
type Transfer struct {
	conn      net.Conn
	enc       encoder.Encoder
	logger    *zap.Logger
	clock     clockwork.Clock
	timeout   time.Duration
	maxRounds int
	progress  func(transfer.Progress)

	segments  [][]byte
	pending   []uint32
	rounds    int
	totalSent int
	bytesSent int64
	err       error
}

// NewTransfer partitions payload into ceil(len/chunkSize) segments with
// dense ascending sequence numbers. The conn must be a connected
// datagram socket.
func NewTransfer(conn net.Conn, e encoder.Encoder, payload []byte, chunkSize int, opts ...Opt) *Transfer {
	segments := partition(payload, chunkSize)
	pending := make([]uint32, len(segments))
	for i := range pending {
		pending[i] = uint32(i)
	}
	t := &Transfer{
		conn:      conn,
		enc:       e,
		logger:    zap.NewNop(),
		clock:     clockwork.NewRealClock(),
		timeout:   shared.ResponseTimeout,
		maxRounds: MaxRounds,
		segments:  segments,
		pending:   pending,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func partition(payload []byte, chunkSize int) [][]byte {
	segments := make([][]byte, 0, (len(payload)+chunkSize-1)/chunkSize)
	for off := 0; off < len(payload); off += chunkSize {
		segments = append(segments, payload[off:min(off+chunkSize, len(payload))])
	}
	return segments
}

// Run validates configuration, dials the receiver and drives one
// transfer to completion. It is the engine entry point the experiment
// layer calls.
func Run(ctx context.Context, dest string, payload []byte, chunkSize int, opts ...Opt) (stats.SenderStats, error) {
	if chunkSize <= 0 {
		return stats.SenderStats{}, fmt.Errorf("%w: got %d", transfer.ErrChunkSize, chunkSize)
	}
	// A chunk size above the datagram maximum is capped, not rejected.
	chunkSize = min(chunkSize, shared.MaxPayloadSize)
	if len(payload) == 0 {
		return stats.SenderStats{}, fmt.Errorf("%w: empty payload", transfer.ErrFileSize)
	}
	conn, err := net.Dial("udp", dest)
	if err != nil {
		return stats.SenderStats{}, fmt.Errorf("dial %q: %w", dest, err)
	}
	defer conn.Close()
	return NewTransfer(conn, encoder.NewBinaryEncoder(), payload, chunkSize, opts...).Run(ctx)
}

// Run executes the send / await-response / retransmit loop.
func (t *Transfer) Run(ctx context.Context) (stats.SenderStats, error) {
	started := t.clock.Now()
	t.logger.Info("starting transfer",
		zap.Int("segments", len(t.segments)), zap.Stringer("dest", t.conn.RemoteAddr()))
	t.report(transfer.Progress(fmt.Sprintf("sending %d segments", len(t.segments))))

	if err := t.sendPending(); err != nil {
		t.err = err
	}
	if t.err == nil {
		sm := statemachine.New(t.awaitingResponse)
		buf := make([]byte, shared.MaxDatagramSize)
		for {
			ev, err := t.nextEvent(ctx, buf)
			if err != nil {
				t.err = err
				break
			}
			if !sm.Transition(ev) {
				break
			}
		}
	}
	st := t.stats(started)
	if t.err != nil {
		t.logger.Warn("transfer failed", zap.Error(t.err), zap.String("stats", st.String()))
	} else {
		t.logger.Info("transfer complete", zap.String("stats", st.String()))
	}
	return st, t.err
}

func (t *Transfer) stats(started time.Time) stats.SenderStats {
	return stats.SenderStats{
		TotalCount:     len(t.segments),
		TotalSentCount: t.totalSent,
		BytesSent:      t.bytesSent,
		Rounds:         t.rounds,
		Elapsed:        t.clock.Since(started),
	}
}

func (t *Transfer) report(p transfer.Progress) {
	if t.progress != nil {
		t.progress(p)
	}
}
