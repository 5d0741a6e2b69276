package transport_test

import (
	"bytes"
	"context"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/minmunui/network-lab/shared/transfer"
	"github.com/minmunui/network-lab/transport"
)

// freePort reserves an ephemeral port and releases it for the transport
// under test. The tiny race with other processes is acceptable here.
func freePort(t *testing.T, network string) int {
	t.Helper()
	switch network {
	case "tcp":
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()
		return ln.Addr().(*net.TCPAddr).Port
	default:
		conn, err := net.ListenPacket("udp", "127.0.0.1:0")
		require.NoError(t, err)
		defer conn.Close()
		return conn.LocalAddr().(*net.UDPAddr).Port
	}
}

func testConfig(port int) transfer.Config {
	return transfer.Config{
		Addr:      "127.0.0.1",
		Port:      port,
		ChunkSize: 1024,
		FileSize:  64 * 1024,
		LossRate:  0,
	}
}

func roundTrip(t *testing.T, protocol string, cfg transfer.Config) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	payload := make([]byte, cfg.FileSize)
	rand.New(rand.NewSource(7)).Read(payload)

	rcv, err := transport.NewReceiver(protocol, cfg, logger)
	require.NoError(t, err)
	defer rcv.Close()
	snd, err := transport.NewSender(protocol, cfg, logger)
	require.NoError(t, err)
	defer snd.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, rcv.Open(ctx))

	var got []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		got, err = rcv.Receive(gctx)
		return err
	})
	g.Go(func() error {
		if err := snd.Open(gctx); err != nil {
			return err
		}
		return snd.Send(gctx, payload)
	})
	require.NoError(t, g.Wait())

	assert.True(t, bytes.Equal(payload, got), "payload corrupted in transit")
	assert.Equal(t, int64(len(payload)), snd.Stats().BytesSent)
	assert.Equal(t, int64(len(payload)), rcv.Stats().BytesReceived)
}

func TestTCPRoundTrip(t *testing.T) {
	roundTrip(t, transport.TCP, testConfig(freePort(t, "tcp")))
}

func TestQUICRoundTrip(t *testing.T) {
	roundTrip(t, transport.QUIC, testConfig(freePort(t, "udp")))
}

func TestMIDTPRoundTrip(t *testing.T) {
	roundTrip(t, transport.MIDTP, testConfig(freePort(t, "udp")))
}

func TestStubProtocols(t *testing.T) {
	cfg := testConfig(1)
	logger := zaptest.NewLogger(t)
	for _, protocol := range []string{transport.UDT, transport.SCTP} {
		_, err := transport.NewSender(protocol, cfg, logger)
		assert.ErrorIs(t, err, transport.ErrUnsupported)
		_, err = transport.NewReceiver(protocol, cfg, logger)
		assert.ErrorIs(t, err, transport.ErrUnsupported)
	}
}

func TestUnknownProtocol(t *testing.T) {
	_, err := transport.NewSender("carrier-pigeon", testConfig(1), zaptest.NewLogger(t))
	require.Error(t, err)
}
