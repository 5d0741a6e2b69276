// Package receiver implements the MIDTP receive side: it accumulates
// segments for one sender at a time, answers each FIN with an ACK or a
// NACK listing the missing segments, and reports session statistics.
package receiver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/minmunui/network-lab/encoder"
	"github.com/minmunui/network-lab/loss"
	"github.com/minmunui/network-lab/shared"
	"github.com/minmunui/network-lab/shared/transfer"
	"github.com/minmunui/network-lab/stats"
)

type Opt func(*Receiver)

func WithLogger(logger *zap.Logger) Opt {
	return func(r *Receiver) {
		r.logger = logger
	}
}

// WithOracle replaces the default Bernoulli loss oracle, typically with
// a deterministic one in tests.
func WithOracle(oracle loss.Oracle) Opt {
	return func(r *Receiver) {
		r.oracle = oracle
	}
}

func WithClock(clock clockwork.Clock) Opt {
	return func(r *Receiver) {
		r.clock = clock
	}
}

// WithReadTimeout bounds each blocking wait for a datagram. After a FIN
// has been seen, a timed-out wait re-evaluates the missing set and
// re-sends a NACK.
func WithReadTimeout(d time.Duration) Opt {
	return func(r *Receiver) {
		r.readTimeout = d
	}
}

// Receiver owns one bound UDP socket. Sessions are served one at a time;
// concurrent senders against a single receiver are unsupported.
type Receiver struct {
	conn        *net.UDPConn
	enc         encoder.Encoder
	oracle      loss.Oracle
	clock       clockwork.Clock
	logger      *zap.Logger
	readTimeout time.Duration
}

// New validates lossRate and binds bindAddr before any session starts.
func New(bindAddr string, lossRate float64, e encoder.Encoder, opts ...Opt) (*Receiver, error) {
	if lossRate < 0 || lossRate > 1 {
		return nil, fmt.Errorf("%w: got %g", transfer.ErrLossRate, lossRate)
	}
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", transfer.ErrAddr, bindAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", bindAddr, err)
	}
	r := &Receiver{
		conn:        conn,
		enc:         e,
		clock:       clockwork.NewRealClock(),
		logger:      zap.NewNop(),
		readTimeout: shared.ResponseTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.oracle == nil {
		r.oracle = loss.NewBernoulli(lossRate, nil)
	}
	return r, nil
}

// Addr reports the bound address, useful after a ":0" bind.
func (r *Receiver) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

func (r *Receiver) Close() error {
	return r.conn.Close()
}

// Session blocks until one sender's transfer completes, then returns the
// reassembled payload. The receiver is free-running: callers loop over
// Session to serve subsequent peers. A protocol violation aborts only
// the current session; the socket stays usable.
func (r *Receiver) Session(ctx context.Context) ([]byte, stats.ReceiverStats, error) {
	s := newSession(r)
	err := s.run(ctx)
	st := s.stats()
	if err != nil {
		return nil, st, err
	}
	r.logger.Info("session complete", zap.String("stats", st.String()))
	return s.reassemble(), st, nil
}

// Run is the single-session convenience entry point: bind, serve one
// session, close.
func Run(ctx context.Context, bindAddr string, lossRate float64, e encoder.Encoder, opts ...Opt) ([]byte, stats.ReceiverStats, error) {
	r, err := New(bindAddr, lossRate, e, opts...)
	if err != nil {
		return nil, stats.ReceiverStats{}, err
	}
	defer r.Close()
	return r.Session(ctx)
}
