// Package stats records the byte, segment and round counters of one
// transfer and renders the human-readable summaries consumed by the
// experiment layer.
package stats

import (
	"fmt"
	"time"
)

// SenderStats describes one outbound transfer.
type SenderStats struct {
	// TotalCount is the number of distinct segments in the transfer.
	TotalCount int
	// TotalSentCount is cumulative and includes retransmissions.
	TotalSentCount int
	// BytesSent counts payload bytes put on the wire, retransmissions
	// included.
	BytesSent int64
	// Rounds is the number of retransmission rounds used.
	Rounds  int
	Elapsed time.Duration
}

// Overhead is the retransmission overhead ratio,
// (sent - total) / total.
func (s SenderStats) Overhead() float64 {
	if s.TotalCount == 0 {
		return 0
	}
	return float64(s.TotalSentCount-s.TotalCount) / float64(s.TotalCount)
}

func (s SenderStats) Throughput() float64 {
	return throughput(s.BytesSent, s.Elapsed)
}

func (s SenderStats) String() string {
	return fmt.Sprintf("segments=%d sent=%d rounds=%d overhead=%.1f%% bytes=%d elapsed=%v throughput=%.2fMB/s",
		s.TotalCount, s.TotalSentCount, s.Rounds, s.Overhead()*100, s.BytesSent, s.Elapsed.Round(time.Millisecond), s.Throughput()/(1024*1024))
}

// ReceiverStats describes one completed (or aborted) receiver session.
type ReceiverStats struct {
	// BytesReceived counts each segment's payload once, no matter how
	// many times it arrived.
	BytesReceived    int64
	SegmentsReceived int
	// Dropped counts segments discarded by the loss oracle.
	Dropped int
	Rounds  int
	Elapsed time.Duration
}

func (s ReceiverStats) Throughput() float64 {
	return throughput(s.BytesReceived, s.Elapsed)
}

func (s ReceiverStats) String() string {
	return fmt.Sprintf("segments=%d dropped=%d rounds=%d bytes=%d elapsed=%v throughput=%.2fMB/s",
		s.SegmentsReceived, s.Dropped, s.Rounds, s.BytesReceived, s.Elapsed.Round(time.Millisecond), s.Throughput()/(1024*1024))
}

// throughput in bytes per second.
func throughput(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}
