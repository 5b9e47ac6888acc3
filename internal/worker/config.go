package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the analysis worker pool.
type Config struct {
	// Concurrency is the number of worker goroutines to run in parallel.
	// Default: 2
	Concurrency int

	// PollInterval is how often an idle worker checks the queue.
	// Default: 1 second
	PollInterval time.Duration

	// ShutdownTimeout is how long Stop waits for running attempts. After it passes,
	// their context is cancelled and the deliveries are left for redelivery.
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// MaintenanceInterval is how often expired leases are requeued and queue depth is sampled.
	// Default: 30 seconds
	MaintenanceInterval time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Concurrency:         2,
		PollInterval:        time.Second,
		ShutdownTimeout:     30 * time.Second,
		MaintenanceInterval: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Concurrency > 100 {
		return fmt.Errorf("concurrency too high (max 100), got %d", c.Concurrency)
	}
	if c.PollInterval < 10*time.Millisecond {
		return fmt.Errorf("poll interval must be at least 10ms, got %v", c.PollInterval)
	}
	if c.ShutdownTimeout < 10*time.Millisecond {
		return fmt.Errorf("shutdown timeout must be at least 10ms, got %v", c.ShutdownTimeout)
	}
	if c.MaintenanceInterval < 10*time.Millisecond {
		return fmt.Errorf("maintenance interval must be at least 10ms, got %v", c.MaintenanceInterval)
	}
	return nil
}
