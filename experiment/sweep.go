// Package experiment orchestrates chunk-size sweeps over the transfer
// engine to find the segment size with the best throughput. It owns no
// protocol state; it only invokes transports and reads their statistics.
package experiment

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"text/tabwriter"

	"github.com/seehuhn/mt19937"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/minmunui/network-lab/shared/transfer"
	"github.com/minmunui/network-lab/transport"
)

// Config describes one sweep: every protocol is run once per chunk size
// against a loopback (or remote) receiver.
type Config struct {
	Host       string
	Port       int
	FileSize   int64
	LossRate   float64
	Protocols  []string
	ChunkSizes []int
	// Seed for the generated payload; zero means an arbitrary payload
	// is fine.
	Seed int64
}

// DefaultChunkSizes reproduces the original sweep range: 1400 to 15400
// in steps of 1400.
func DefaultChunkSizes() []int {
	var sizes []int
	for size := 1400; size <= 15400; size += 1400 {
		sizes = append(sizes, size)
	}
	return sizes
}

// Result is one measured point of the sweep.
type Result struct {
	Protocol   string
	ChunkSize  int
	Throughput float64 // bytes per second, sender side
	Rounds     int
	Failed     bool
}

// Run executes the sweep sequentially: one receiver session and one
// sender transfer per point. A failed transfer (e.g. rounds exhausted
// under heavy loss) is recorded and the sweep continues.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) ([]Result, error) {
	tc := transfer.Config{
		Addr:     cfg.Host,
		Port:     cfg.Port,
		FileSize: cfg.FileSize,
		LossRate: cfg.LossRate,
		// ChunkSize is set per point below.
		ChunkSize: 1,
	}
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	payload := make([]byte, cfg.FileSize)
	rng := mt19937.New()
	rng.Seed(cfg.Seed)
	rand.New(rng).Read(payload)

	var results []Result
	for _, protocol := range cfg.Protocols {
		for _, chunkSize := range cfg.ChunkSizes {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			tc.ChunkSize = chunkSize
			res, err := runPoint(ctx, protocol, tc, payload, logger)
			if err != nil {
				return results, fmt.Errorf("%s chunk=%d: %w", protocol, chunkSize, err)
			}
			logger.Info("sweep point done",
				zap.String("protocol", protocol),
				zap.Int("chunk_size", chunkSize),
				zap.Float64("throughput_mbps", res.Throughput/(1024*1024)),
				zap.Bool("failed", res.Failed))
			results = append(results, res)
		}
	}
	return results, nil
}

// runPoint measures one (protocol, chunkSize) pair. Setup errors are
// returned; transfer failures are folded into the result.
func runPoint(ctx context.Context, protocol string, tc transfer.Config, payload []byte, logger *zap.Logger) (Result, error) {
	res := Result{Protocol: protocol, ChunkSize: tc.ChunkSize}

	rcv, err := transport.NewReceiver(protocol, tc, logger)
	if err != nil {
		return res, err
	}
	snd, err := transport.NewSender(protocol, tc, logger)
	if err != nil {
		return res, err
	}
	if err := rcv.Open(ctx); err != nil {
		return res, err
	}
	defer rcv.Close()
	defer snd.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		got, err := rcv.Receive(gctx)
		if err != nil {
			return err
		}
		if int64(len(got)) != int64(len(payload)) {
			return fmt.Errorf("received %d bytes, want %d", len(got), len(payload))
		}
		return nil
	})
	g.Go(func() error {
		if err := snd.Open(gctx); err != nil {
			return err
		}
		return snd.Send(gctx, payload)
	})
	if err := g.Wait(); err != nil {
		res.Failed = true
		logger.Warn("transfer failed", zap.String("protocol", protocol),
			zap.Int("chunk_size", tc.ChunkSize), zap.Error(err))
	}
	st := snd.Stats()
	res.Throughput = st.Throughput()
	res.Rounds = st.Rounds
	return res, nil
}

// Best returns the highest-throughput successful point.
func Best(results []Result) (Result, bool) {
	var best Result
	found := false
	for _, r := range results {
		if r.Failed {
			continue
		}
		if !found || r.Throughput > best.Throughput {
			best = r
			found = true
		}
	}
	return best, found
}

// WriteTable renders the sweep results as an aligned text table.
func WriteTable(w io.Writer, results []Result) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "PROTOCOL\tCHUNK\tTHROUGHPUT (MB/s)\tROUNDS\tSTATUS")
	for _, r := range results {
		status := "ok"
		if r.Failed {
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%d\t%s\n",
			r.Protocol, r.ChunkSize, r.Throughput/(1024*1024), r.Rounds, status)
	}
	return tw.Flush()
}

// WriteCSV emits the results for external plotting.
func WriteCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"protocol", "chunk_size", "throughput_bps", "rounds", "failed"}); err != nil {
		return err
	}
	for _, r := range results {
		record := []string{
			r.Protocol,
			strconv.Itoa(r.ChunkSize),
			strconv.FormatFloat(r.Throughput, 'f', 2, 64),
			strconv.Itoa(r.Rounds),
			strconv.FormatBool(r.Failed),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
