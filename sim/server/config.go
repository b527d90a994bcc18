package server

import (
	"fmt"
	"time"

	"github.com/plant-twin/twinsim/sim/trace"
)

const (
	// DefaultTickInterval is the real-time cadence of the tick loop.
	DefaultTickInterval = time.Second

	// DefaultQueueCapacity bounds the inbound request queue. Submit blocks
	// while the queue is full.
	DefaultQueueCapacity = 1024
)

// Config controls a Server. The zero value is usable: zero fields take their
// defaults.
type Config struct {
	TickInterval  time.Duration
	QueueCapacity int

	// Trace receives request and tick records when non-nil.
	Trace *trace.SimulationTrace

	// Metrics receives Prometheus observations when non-nil.
	Metrics *Metrics
}

func (c Config) withDefaults() Config {
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.TickInterval < 0 {
		return fmt.Errorf("tick interval must be positive, got %v", c.TickInterval)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.Trace != nil && !trace.IsValidTraceLevel(string(c.Trace.Config.Level)) {
		return fmt.Errorf("unknown trace level %q", c.Trace.Config.Level)
	}
	return nil
}
