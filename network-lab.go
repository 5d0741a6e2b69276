package main

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/seehuhn/mt19937"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/minmunui/network-lab/experiment"
	"github.com/minmunui/network-lab/receiver"
	"github.com/minmunui/network-lab/shared/transfer"
	"github.com/minmunui/network-lab/transport"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "network-lab",
		Short:         "Transfer protocol testbed: MIDTP engine plus stream baselines",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(sendCmd(), recvCmd(), sweepCmd())
	return root
}

func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	levelStr, _ := cmd.Flags().GetString("log-level")
	level, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// bindConfig merges flag values and NETLAB_* environment overrides into
// a validated transfer config.
func bindConfig(cmd *cobra.Command) (transfer.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NETLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return transfer.Config{}, err
	}
	cfg := transfer.NewConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return transfer.Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, cfg.Validate()
}

func addConfigFlags(fs *pflag.FlagSet) {
	defaults := transfer.NewConfig()
	fs.String("addr", defaults.Addr, "peer or bind address")
	fs.Int("port", defaults.Port, "peer or bind port")
	fs.Int("chunk-size", defaults.ChunkSize, "bytes per DATA payload")
	fs.Int64("file-size", defaults.FileSize, "bytes to transfer")
	fs.Float64("loss-rate", defaults.LossRate, "simulated loss rate in [0,1], receiver only")
}

func randomPayload(size int64) []byte {
	payload := make([]byte, size)
	rng := mt19937.New()
	rng.Seed(int64(os.Getpid()))
	rand.New(rng).Read(payload)
	return payload
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a generated payload to a receiver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()
			cfg, err := bindConfig(cmd)
			if err != nil {
				return err
			}
			protocol, _ := cmd.Flags().GetString("protocol")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			snd, err := transport.NewSender(protocol, cfg, logger)
			if err != nil {
				return err
			}
			defer snd.Close()
			if err := snd.Open(ctx); err != nil {
				return err
			}
			if err := snd.Send(ctx, randomPayload(cfg.FileSize)); err != nil {
				return err
			}
			fmt.Println(snd.Stats())
			return nil
		},
	}
	addConfigFlags(cmd.Flags())
	cmd.Flags().String("protocol", transport.MIDTP, "midtp, tcp, tcp-bbr or quic")
	return cmd
}

func recvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Serve receiver sessions until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()
			cfg, err := bindConfig(cmd)
			if err != nil {
				return err
			}
			protocol, _ := cmd.Flags().GetString("protocol")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rcv, err := transport.NewReceiver(protocol, cfg, logger)
			if err != nil {
				return err
			}
			defer rcv.Close()
			if err := rcv.Open(ctx); err != nil {
				return err
			}
			// Sessions are served one peer at a time; each completed
			// or aborted session frees the receiver for the next one.
			for {
				_, err := rcv.Receive(ctx)
				switch {
				case ctx.Err() != nil:
					return nil
				case errors.Is(err, receiver.ErrTotalMismatch):
					logger.Warn("session aborted, awaiting new peer", zap.Error(err))
				case err != nil:
					return err
				default:
					fmt.Println(rcv.Stats())
				}
			}
		},
	}
	addConfigFlags(cmd.Flags())
	cmd.Flags().String("protocol", transport.MIDTP, "midtp, tcp, tcp-bbr or quic")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Measure throughput across chunk sizes to find the optimum",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()
			cfg, err := bindConfig(cmd)
			if err != nil {
				return err
			}
			protocols, _ := cmd.Flags().GetStringSlice("protocols")
			sizes, _ := cmd.Flags().GetIntSlice("chunk-sizes")
			csvPath, _ := cmd.Flags().GetString("csv")
			if len(sizes) == 0 {
				sizes = experiment.DefaultChunkSizes()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			results, err := experiment.Run(ctx, experiment.Config{
				Host:       cfg.Addr,
				Port:       cfg.Port,
				FileSize:   cfg.FileSize,
				LossRate:   cfg.LossRate,
				Protocols:  protocols,
				ChunkSizes: sizes,
			}, logger)
			if err != nil {
				return err
			}
			if err := experiment.WriteTable(os.Stdout, results); err != nil {
				return err
			}
			if best, ok := experiment.Best(results); ok {
				fmt.Printf("\nbest: %s chunk=%d (%.2f MB/s)\n",
					best.Protocol, best.ChunkSize, best.Throughput/(1024*1024))
			}
			if csvPath != "" {
				f, err := os.Create(csvPath)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := experiment.WriteCSV(f, results); err != nil {
					return err
				}
			}
			return nil
		},
	}
	addConfigFlags(cmd.Flags())
	cmd.Flags().StringSlice("protocols", []string{transport.MIDTP, transport.TCP}, "protocols to sweep")
	cmd.Flags().IntSlice("chunk-sizes", nil, "chunk sizes to measure (default 1400..15400 step 1400)")
	cmd.Flags().String("csv", "", "write results to a CSV file")
	return cmd
}
