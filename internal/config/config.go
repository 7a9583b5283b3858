// Package config holds the engine's node-local and coordinator
// configuration, following the teacher's plain-struct-plus-Validate style.
package config

import (
	"errors"
	"fmt"
)

// BufferConfig controls the node-local BufferPool.
type BufferConfig struct {
	NumBuffers int // number of pooled buffers
	BufferSize int // size in bytes of each pooled buffer
}

// RuntimeConfig controls the task-queue-backed thread pool.
type RuntimeConfig struct {
	NumWorkerThreads int
	TaskQueueDepth   int // initial capacity hint for the MPMC queue
}

// ShredderConfig controls the SequenceShredder ring.
type ShredderConfig struct {
	RingWidth int // W in spec.md §4.5, defaults to 1024
}

// LoggingConfig holds settings for structured logging.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "console"
}

// ControlPlaneConfig controls the coordinator's HTTP RPC + metrics listener.
type ControlPlaneConfig struct {
	ListenAddr    string
	MetricsAddr   string
	RetryAttempts int // validated and defaulted; no component reads it
}

// Config is the top-level configuration for one node (worker or coordinator).
type Config struct {
	NodeID   uint64
	Buffer   BufferConfig
	Runtime  RuntimeConfig
	Shredder ShredderConfig
	Logging  LoggingConfig
	Control  ControlPlaneConfig
}

// Default returns a Config with the spec's typical defaults filled in.
func Default() *Config {
	return &Config{
		Buffer: BufferConfig{
			NumBuffers: 64,
			BufferSize: 4096,
		},
		Runtime: RuntimeConfig{
			NumWorkerThreads: 4,
			TaskQueueDepth:   256,
		},
		Shredder: ShredderConfig{
			RingWidth: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Control: ControlPlaneConfig{
			ListenAddr:    ":4300",
			MetricsAddr:   ":4301",
			RetryAttempts: 3,
		},
	}
}

// Validate checks field sanity and fills in any zero-value defaults that
// have a safe non-zero replacement, matching the teacher's Validate contract.
func (c *Config) Validate() error {
	var errs []error

	if c.Buffer.NumBuffers <= 0 {
		errs = append(errs, errors.New("buffer.num_buffers must be positive"))
	}
	if c.Buffer.BufferSize <= 0 {
		errs = append(errs, errors.New("buffer.buffer_size must be positive"))
	}
	if c.Runtime.NumWorkerThreads <= 0 {
		c.Runtime.NumWorkerThreads = 1
	}
	if c.Runtime.TaskQueueDepth <= 0 {
		c.Runtime.TaskQueueDepth = 64
	}
	if c.Shredder.RingWidth <= 0 {
		c.Shredder.RingWidth = 1024
	}
	if c.Control.RetryAttempts <= 0 {
		c.Control.RetryAttempts = 3
	}
	if c.Control.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("control.listen_addr is required"))
	}

	return errors.Join(errs...)
}
