package transfer

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Progress is a human-readable status line emitted while a transfer is
// running.
type Progress string

var (
	ErrChunkSize = errors.New("chunk size must be positive")
	ErrFileSize  = errors.New("file size must be positive")
	ErrLossRate  = errors.New("loss rate must be in [0, 1]")
	ErrAddr      = errors.New("invalid address")
)

// Config is the external configuration surface of the engine. It is
// validated before any network activity begins.
type Config struct {
	Addr      string  `mapstructure:"addr"`
	Port      int     `mapstructure:"port"`
	ChunkSize int     `mapstructure:"chunk-size"`
	FileSize  int64   `mapstructure:"file-size"`
	LossRate  float64 `mapstructure:"loss-rate"`
}

func NewConfig() Config {
	return Config{
		Addr:      "127.0.0.1",
		Port:      9999,
		ChunkSize: 1400,
		FileSize:  50 * 1024 * 1024,
		LossRate:  0,
	}
}

// Endpoint renders the addr:port pair for net dial/listen calls.
func (c Config) Endpoint() string {
	return net.JoinHostPort(c.Addr, strconv.Itoa(c.Port))
}

// Validate reports configuration errors before any network activity
// begins. Chunk sizes above the protocol maximum are not an error; the
// sender caps them.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrChunkSize, c.ChunkSize)
	}
	if c.FileSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrFileSize, c.FileSize)
	}
	if c.LossRate < 0 || c.LossRate > 1 {
		return fmt.Errorf("%w: got %g", ErrLossRate, c.LossRate)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrAddr, c.Port)
	}
	return nil
}
