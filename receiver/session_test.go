package receiver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/minmunui/network-lab/encoder"
	"github.com/minmunui/network-lab/message"
	"github.com/minmunui/network-lab/statemachine"
)

func timeoutEvent() statemachine.Event {
	return statemachine.Event{Timeout: true}
}

func newTestSession(t *testing.T) *session {
	t.Helper()
	r, err := New("127.0.0.1:0", 0, encoder.NewBinaryEncoder(), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	s := newSession(r)
	// Control replies go back to the peer; loop them to our own socket.
	s.touch(r.Addr())
	return s
}

func record(s *session, seqs ...uint32) {
	for _, seq := range seqs {
		s.recordSegment(message.Segment{Seq: seq, Data: []byte{byte(seq)}})
	}
}

func TestMissingSet(t *testing.T) {
	for name, tc := range map[string]struct {
		total    uint32
		received []uint32
		want     []uint32
	}{
		"nothing received": {total: 4, received: nil, want: []uint32{0, 1, 2, 3}},
		"all received":     {total: 3, received: []uint32{0, 1, 2}, want: nil},
		"holes":            {total: 10, received: []uint32{0, 1, 2, 4, 5, 6, 8, 9}, want: []uint32{3, 7}},
		"only tail":        {total: 5, received: []uint32{4}, want: []uint32{0, 1, 2, 3}},
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestSession(t)
			s.haveTotal = true
			s.total = tc.total
			record(s, tc.received...)
			assert.Equal(t, tc.want, s.missing())
		})
	}
}

func TestMissingUnknownBeforeFin(t *testing.T) {
	s := newTestSession(t)
	record(s, 0, 1, 2)
	assert.Nil(t, s.missing())
}

func TestRecordSegmentIdempotent(t *testing.T) {
	s := newTestSession(t)
	seg := message.Segment{Seq: 3, Data: []byte("abcd")}
	s.recordSegment(seg)
	s.recordSegment(seg)
	s.recordSegment(seg)
	assert.Equal(t, int64(4), s.bytes)
	assert.Equal(t, uint(1), s.received.Count())
}

func TestRecordSegmentOutOfRange(t *testing.T) {
	s := newTestSession(t)
	s.haveTotal = true
	s.total = 5
	s.recordSegment(message.Segment{Seq: 9, Data: []byte("x")})
	assert.Zero(t, s.bytes)
	assert.False(t, s.received.Test(9))
}

func TestFirstFinPrunesOutOfRange(t *testing.T) {
	s := newTestSession(t)
	record(s, 0, 1, 9)
	// After the prune nothing in [0,2) is missing, so this FIN completes
	// the session.
	next := s.handleFin(2)
	assert.Nil(t, next)
	require.NoError(t, s.err)
	assert.Equal(t, int64(2), s.bytes)
	assert.False(t, s.received.Test(9))
	assert.Nil(t, s.missing())
	assert.Zero(t, s.rounds)
}

func TestFinMismatchIsFatal(t *testing.T) {
	s := newTestSession(t)
	record(s, 0)
	require.NotNil(t, s.handleFin(3))
	require.Nil(t, s.err)

	next := s.handleFin(4)
	assert.Nil(t, next)
	assert.ErrorIs(t, s.err, ErrTotalMismatch)
}

func TestFinCompleteSendsAckAndFinishes(t *testing.T) {
	s := newTestSession(t)
	record(s, 0, 1, 2)
	next := s.handleFin(3)
	assert.Nil(t, next)
	assert.NoError(t, s.err)
	assert.Equal(t, []byte{0, 1, 2}, s.reassemble())
}

func TestDroppedSegmentsAreCountedNotRecorded(t *testing.T) {
	r, err := New("127.0.0.1:0", 0, encoder.NewBinaryEncoder(),
		WithLogger(zaptest.NewLogger(t)),
		WithOracle(dropAll{}))
	require.NoError(t, err)
	defer r.Close()
	s := newSession(r)
	record(s, 0, 1, 2)
	assert.Equal(t, 3, s.dropped)
	assert.Zero(t, s.bytes)
	assert.Equal(t, uint(0), s.received.Count())
}

func TestTimeoutWithPendingFinResendsNack(t *testing.T) {
	s := newTestSession(t)
	s.haveTotal = true
	s.total = 3
	record(s, 0)
	require.NotNil(t, s.awaitingRetransmission(timeoutEvent()))
	assert.Equal(t, 1, s.rounds)
	require.NotNil(t, s.awaitingRetransmission(timeoutEvent()))
	assert.Equal(t, 2, s.rounds)
}

func TestNewRejectsBadLossRate(t *testing.T) {
	_, err := New("127.0.0.1:0", 1.5, encoder.NewBinaryEncoder())
	require.Error(t, err)
	_, err = New("127.0.0.1:0", -0.5, encoder.NewBinaryEncoder())
	require.Error(t, err)
}

type dropAll struct{}

func (dropAll) ShouldDrop(uint32) bool { return true }
