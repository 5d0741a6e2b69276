package sender

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/minmunui/network-lab/encoder"
	"github.com/minmunui/network-lab/message"
	"github.com/minmunui/network-lab/statemachine"
)

// discardConn swallows writes; reads are never exercised by these tests.
type discardConn struct {
	net.Conn
}

func (discardConn) Write(b []byte) (int, error)     { return len(b), nil }
func (discardConn) RemoteAddr() net.Addr            { return &net.UDPAddr{} }
func (discardConn) SetReadDeadline(time.Time) error { return nil }

func TestPartition(t *testing.T) {
	for name, tc := range map[string]struct {
		size      int
		chunkSize int
		want      int
		lastLen   int
	}{
		"uneven tail":    {size: 950, chunkSize: 100, want: 10, lastLen: 50},
		"exact multiple": {size: 1000, chunkSize: 100, want: 10, lastLen: 100},
		"single segment": {size: 10, chunkSize: 100, want: 1, lastLen: 10},
		"chunk of one":   {size: 5, chunkSize: 1, want: 5, lastLen: 1},
	} {
		t.Run(name, func(t *testing.T) {
			segments := partition(make([]byte, tc.size), tc.chunkSize)
			require.Len(t, segments, tc.want)
			for _, seg := range segments[:len(segments)-1] {
				assert.Len(t, seg, tc.chunkSize)
			}
			assert.Len(t, segments[len(segments)-1], tc.lastLen)
		})
	}
}

func newDiscardTransfer(t *testing.T, size, chunkSize int) *Transfer {
	t.Helper()
	return NewTransfer(discardConn{}, encoder.NewBinaryEncoder(), make([]byte, size), chunkSize,
		WithLogger(zaptest.NewLogger(t)))
}

func TestRetransmitEnforcesRoundBound(t *testing.T) {
	tr := newDiscardTransfer(t, 500, 100)
	tr.rounds = tr.maxRounds
	tr.pending = []uint32{4}

	assert.Nil(t, tr.retransmit())
	assert.ErrorIs(t, tr.err, ErrRoundsExhausted)
	assert.Equal(t, MaxRounds, tr.rounds)
}

func TestNackDrivesRetransmission(t *testing.T) {
	tr := newDiscardTransfer(t, 500, 100)
	tr.totalSent = 5

	next := tr.awaitingResponse(statemachine.Event{Packet: message.NewNack([]uint32{1, 3})})
	require.NotNil(t, next)
	assert.Equal(t, 1, tr.rounds)
	assert.Equal(t, 7, tr.totalSent)
	assert.Equal(t, []uint32{1, 3}, tr.pending)
}

func TestAckCompletesTransfer(t *testing.T) {
	tr := newDiscardTransfer(t, 500, 100)
	assert.Nil(t, tr.awaitingResponse(statemachine.Event{Packet: message.NewAck()}))
	assert.NoError(t, tr.err)
	assert.Zero(t, tr.rounds)
}

func TestUnexpectedPacketIsIgnored(t *testing.T) {
	tr := newDiscardTransfer(t, 500, 100)
	next := tr.awaitingResponse(statemachine.Event{Packet: message.NewFin(5)})
	require.NotNil(t, next)
	assert.Zero(t, tr.rounds)
}

func TestTimeoutCountsAsRound(t *testing.T) {
	tr := newDiscardTransfer(t, 300, 100)
	tr.totalSent = 3

	next := tr.awaitingResponse(statemachine.Event{Timeout: true})
	require.NotNil(t, next)
	assert.Equal(t, 1, tr.rounds)
	// The whole pending set (still every segment) goes out again.
	assert.Equal(t, 6, tr.totalSent)
}

func TestOutOfRangeNackIdsAreSkipped(t *testing.T) {
	tr := newDiscardTransfer(t, 300, 100)
	tr.pending = []uint32{1, 99}
	require.NoError(t, tr.sendPending())
	assert.Equal(t, 1, tr.totalSent)
}
