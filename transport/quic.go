package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/minmunui/network-lab/shared/transfer"
	"github.com/minmunui/network-lab/stats"
)

const quicProto = "network-lab-transfer"

type quicSender struct {
	cfg    transfer.Config
	logger *zap.Logger
	clock  clockwork.Clock
	conn   quic.Connection
	st     stats.SenderStats
}

func newQUICSender(cfg transfer.Config, logger *zap.Logger) *quicSender {
	return &quicSender{cfg: cfg, logger: logger, clock: clockwork.NewRealClock()}
}

func (s *quicSender) Open(ctx context.Context) error {
	tlsConf := &tls.Config{
		// The receiver presents a throwaway self-signed certificate;
		// peer authentication is a non-goal of these measurements.
		InsecureSkipVerify: true,
		NextProtos:         []string{quicProto},
	}
	conn, err := quic.DialAddr(ctx, s.cfg.Endpoint(), tlsConf, nil)
	if err != nil {
		return fmt.Errorf("quic dial %q: %w", s.cfg.Endpoint(), err)
	}
	s.conn = conn
	return nil
}

func (s *quicSender) Send(ctx context.Context, payload []byte) error {
	started := s.clock.Now()
	stream, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(payload)))
	if _, err := stream.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	chunk := s.cfg.ChunkSize
	for off := 0; off < len(payload); off += chunk {
		n, err := stream.Write(payload[off:min(off+chunk, len(payload))])
		if err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
		s.st.BytesSent += int64(n)
		s.st.TotalSentCount++
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	// Wait for the receiver's confirmation byte; closing the connection
	// right after the write would abort data still in flight.
	var ack [1]byte
	if _, err := io.ReadFull(stream, ack[:]); err != nil {
		return fmt.Errorf("await receiver confirmation: %w", err)
	}
	s.st.TotalCount = s.st.TotalSentCount
	s.st.Elapsed = s.clock.Since(started)
	return nil
}

func (s *quicSender) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.CloseWithError(0, "done")
}

func (s *quicSender) Stats() stats.SenderStats {
	return s.st
}

type quicReceiver struct {
	cfg    transfer.Config
	logger *zap.Logger
	clock  clockwork.Clock
	ln     *quic.Listener
	st     stats.ReceiverStats
}

func newQUICReceiver(cfg transfer.Config, logger *zap.Logger) *quicReceiver {
	return &quicReceiver{cfg: cfg, logger: logger, clock: clockwork.NewRealClock()}
}

func (r *quicReceiver) Open(context.Context) error {
	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		return fmt.Errorf("generate tls config: %w", err)
	}
	ln, err := quic.ListenAddr(r.cfg.Endpoint(), tlsConf, nil)
	if err != nil {
		return fmt.Errorf("quic listen %q: %w", r.cfg.Endpoint(), err)
	}
	r.ln = ln
	return nil
}

func (r *quicReceiver) Receive(ctx context.Context) ([]byte, error) {
	conn, err := r.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	r.logger.Info("quic connection accepted", zap.Stringer("peer", conn.RemoteAddr()))
	started := r.clock.Now()
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept stream: %w", err)
	}
	payload, err := readLengthPrefixed(stream)
	if err != nil {
		return nil, err
	}
	if _, err := stream.Write([]byte{0}); err != nil {
		return nil, fmt.Errorf("confirm receipt: %w", err)
	}
	stream.Close()
	r.st.BytesReceived = int64(len(payload))
	r.st.SegmentsReceived = 1
	r.st.Elapsed = r.clock.Since(started)
	return payload, nil
}

func (r *quicReceiver) Close() error {
	if r.ln == nil {
		return nil
	}
	return r.ln.Close()
}

func (r *quicReceiver) Stats() stats.ReceiverStats {
	return r.st
}

// selfSignedTLSConfig builds a throwaway certificate for the listener.
func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "network-lab"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		}},
		NextProtos: []string{quicProto},
	}, nil
}
