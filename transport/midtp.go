package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/minmunui/network-lab/encoder"
	"github.com/minmunui/network-lab/receiver"
	"github.com/minmunui/network-lab/sender"
	"github.com/minmunui/network-lab/shared/transfer"
	"github.com/minmunui/network-lab/stats"
)

type midtpSender struct {
	cfg    transfer.Config
	logger *zap.Logger
	st     stats.SenderStats
}

func newMIDTPSender(cfg transfer.Config, logger *zap.Logger) *midtpSender {
	return &midtpSender{cfg: cfg, logger: logger}
}

// Open is a no-op: the engine dials per transfer, there is no
// connection to establish ahead of time on a datagram transport.
func (s *midtpSender) Open(context.Context) error {
	return nil
}

func (s *midtpSender) Send(ctx context.Context, payload []byte) error {
	st, err := sender.Run(ctx, s.cfg.Endpoint(), payload, s.cfg.ChunkSize,
		sender.WithLogger(s.logger))
	s.st = st
	return err
}

func (s *midtpSender) Close() error {
	return nil
}

func (s *midtpSender) Stats() stats.SenderStats {
	return s.st
}

type midtpReceiver struct {
	cfg    transfer.Config
	logger *zap.Logger
	r      *receiver.Receiver
	st     stats.ReceiverStats
}

func newMIDTPReceiver(cfg transfer.Config, logger *zap.Logger) *midtpReceiver {
	return &midtpReceiver{cfg: cfg, logger: logger}
}

func (r *midtpReceiver) Open(context.Context) error {
	rcv, err := receiver.New(r.cfg.Endpoint(), r.cfg.LossRate, encoder.NewBinaryEncoder(),
		receiver.WithLogger(r.logger))
	if err != nil {
		return err
	}
	r.r = rcv
	return nil
}

func (r *midtpReceiver) Receive(ctx context.Context) ([]byte, error) {
	payload, st, err := r.r.Session(ctx)
	r.st = st
	return payload, err
}

func (r *midtpReceiver) Close() error {
	if r.r == nil {
		return nil
	}
	return r.r.Close()
}

func (r *midtpReceiver) Stats() stats.ReceiverStats {
	return r.st
}
