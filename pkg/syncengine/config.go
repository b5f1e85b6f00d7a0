package syncengine

import (
	"math"
	"time"
)

// Config holds the batching and request-budget parameters of the scheduler.
type Config struct {
	// BatchSize is the number of athletes fetched concurrently per batch.
	BatchSize int
	// LargeSetThreshold switches to LargeSetBatchSize when more athletes
	// than this are pending.
	LargeSetThreshold int
	LargeSetBatchSize int

	// RequestBudget is the provider's request ceiling per RequestWindow.
	RequestBudget int
	RequestWindow time.Duration
	// SafetyMargin is the share of RequestBudget the scheduler plans to use.
	SafetyMargin float64

	MinBatchDelay time.Duration
	RetryDelay    time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:         10,
		LargeSetThreshold: 150,
		LargeSetBatchSize: 5,
		RequestBudget:     100,
		RequestWindow:     15 * time.Minute,
		SafetyMargin:      0.8,
		MinBatchDelay:     2 * time.Second,
		RetryDelay:        3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.LargeSetBatchSize <= 0 {
		c.LargeSetBatchSize = c.BatchSize
	}
	if c.LargeSetThreshold <= 0 {
		c.LargeSetThreshold = d.LargeSetThreshold
	}
	if c.SafetyMargin <= 0 || c.SafetyMargin > 1 {
		c.SafetyMargin = d.SafetyMargin
	}
	return c
}

// batchSize picks the batch size for a pending set.
func (c Config) batchSize(pending int) int {
	if pending > c.LargeSetThreshold {
		return c.LargeSetBatchSize
	}
	return c.BatchSize
}

// batchDelay sizes the pause between batches so that the whole pass stays
// under the usable share of the request budget. One provider request is
// planned per athlete. When every pending athlete fits in a single window
// only MinBatchDelay is applied.
func (c Config) batchDelay(pending, batchSize int) time.Duration {
	if c.RequestBudget <= 0 || c.RequestWindow <= 0 || batchSize <= 0 {
		return c.MinBatchDelay
	}
	usable := int(math.Floor(float64(c.RequestBudget) * c.SafetyMargin))
	if usable < 1 {
		usable = 1
	}
	if pending <= usable {
		return c.MinBatchDelay
	}

	batchesPerWindow := usable / batchSize
	if batchesPerWindow < 1 {
		batchesPerWindow = 1
	}
	delay := c.RequestWindow / time.Duration(batchesPerWindow)
	if delay < c.MinBatchDelay {
		delay = c.MinBatchDelay
	}
	return delay
}
