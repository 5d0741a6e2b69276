package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/minmunui/network-lab/shared/transfer"
	"github.com/minmunui/network-lab/stats"
)

// Stream transfers announce the payload with an 8-byte big-endian
// length prefix, then write the raw bytes.
const lengthPrefixSize = 8

type tcpSender struct {
	cfg        transfer.Config
	logger     *zap.Logger
	clock      clockwork.Clock
	congestion string
	conn       net.Conn
	st         stats.SenderStats
}

func newTCPSender(cfg transfer.Config, logger *zap.Logger, congestion string) *tcpSender {
	return &tcpSender{cfg: cfg, logger: logger, clock: clockwork.NewRealClock(), congestion: congestion}
}

func (s *tcpSender) Open(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.cfg.Endpoint())
	if err != nil {
		return fmt.Errorf("dial %q: %w", s.cfg.Endpoint(), err)
	}
	if s.congestion != "" {
		raw, err := conn.(*net.TCPConn).SyscallConn()
		if err == nil {
			err = setCongestionControl(raw, s.congestion)
		}
		if err != nil {
			conn.Close()
			return fmt.Errorf("set congestion control %q: %w", s.congestion, err)
		}
		s.logger.Info("congestion control set", zap.String("algorithm", s.congestion))
	}
	s.conn = conn
	return nil
}

func (s *tcpSender) Send(ctx context.Context, payload []byte) error {
	started := s.clock.Now()
	if d, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(d)
	}
	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(payload)))
	if _, err := s.conn.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	// Written in chunk-size slices so the sweep exercises the same
	// chunk sizes on every protocol.
	chunk := s.cfg.ChunkSize
	for off := 0; off < len(payload); off += chunk {
		n, err := s.conn.Write(payload[off:min(off+chunk, len(payload))])
		if err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
		s.st.BytesSent += int64(n)
		s.st.TotalSentCount++
	}
	s.st.TotalCount = s.st.TotalSentCount
	s.st.Elapsed = s.clock.Since(started)
	return nil
}

func (s *tcpSender) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *tcpSender) Stats() stats.SenderStats {
	return s.st
}

type tcpReceiver struct {
	cfg    transfer.Config
	logger *zap.Logger
	clock  clockwork.Clock
	ln     net.Listener
	st     stats.ReceiverStats
}

func newTCPReceiver(cfg transfer.Config, logger *zap.Logger) *tcpReceiver {
	return &tcpReceiver{cfg: cfg, logger: logger, clock: clockwork.NewRealClock()}
}

func (r *tcpReceiver) Open(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", r.cfg.Endpoint())
	if err != nil {
		return fmt.Errorf("listen %q: %w", r.cfg.Endpoint(), err)
	}
	r.ln = ln
	return nil
}

func (r *tcpReceiver) Receive(ctx context.Context) ([]byte, error) {
	if d, ok := ctx.Deadline(); ok {
		r.ln.(*net.TCPListener).SetDeadline(d)
	}
	conn, err := r.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()
	r.logger.Info("stream accepted", zap.Stringer("peer", conn.RemoteAddr()))
	started := r.clock.Now()
	if d, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(d)
	}
	payload, err := readLengthPrefixed(conn)
	if err != nil {
		return nil, err
	}
	r.st.BytesReceived = int64(len(payload))
	r.st.SegmentsReceived = 1
	r.st.Elapsed = r.clock.Since(started)
	return payload, nil
}

func (r *tcpReceiver) Close() error {
	if r.ln == nil {
		return nil
	}
	return r.ln.Close()
}

func (r *tcpReceiver) Stats() stats.ReceiverStats {
	return r.st
}

func readLengthPrefixed(rd io.Reader) ([]byte, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(rd, prefix[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	payload := make([]byte, binary.BigEndian.Uint64(prefix[:]))
	if _, err := io.ReadFull(rd, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}
