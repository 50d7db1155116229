package multistream

import "time"

// Config bounds a single negotiation (spec.md §5 "Timeouts", §6
// "streamTimeout, maxRetries").
type Config struct {
	// Timeout bounds a single read attempt.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after a timeout,
	// before the failure is surfaced to the caller.
	MaxRetries int
}

// DefaultConfig mirrors spec.md §6's defaults (30s, 3 retries).
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second, MaxRetries: 3}
}
