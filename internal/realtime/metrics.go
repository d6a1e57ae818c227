package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

const (
	// BufferDuration is the duration of attempt events kept in memory
	BufferDuration = 60 * time.Second
	// rateWindow is the sliding window used for rate calculation
	rateWindow = 5 * time.Second
)

// AttemptEvent is one failed-login observation fed by the processor
type AttemptEvent struct {
	Address   string
	Blocked   bool
	Timestamp time.Time
}

// Metrics is the current live view over the buffer
type Metrics struct {
	AttemptRate     float64          `json:"attempt_rate"` // attempts/sec
	BlockRate       float64          `json:"block_rate"`   // blocks/sec
	UniqueAddresses int              `json:"unique_addresses"`
	BlocksLastMin   int64            `json:"blocks_last_minute"`
	TopAddresses    []AddressMetrics `json:"top_addresses"`
	Timestamp       time.Time        `json:"timestamp"`
}

// AddressMetrics ranks one offender in the window
type AddressMetrics struct {
	Address  string `json:"address"`
	Attempts int64  `json:"attempts"`
}

// Collector keeps a sliding one-minute buffer of attempt events and
// derives attack-pressure metrics from it. Never consulted on the
// blocking decision path.
type Collector struct {
	logger *pterm.Logger

	bufferMu sync.Mutex
	buffer   []AttemptEvent

	mu      sync.RWMutex
	current Metrics

	stopChan chan struct{}
	stopped  bool
}

// NewCollector creates a new live metrics collector
func NewCollector(logger *pterm.Logger) *Collector {
	return &Collector{
		logger:   logger,
		buffer:   make([]AttemptEvent, 0, 4096),
		stopChan: make(chan struct{}),
	}
}

// Ingest adds one attempt event to the buffer
func (c *Collector) Ingest(event AttemptEvent) {
	c.bufferMu.Lock()
	c.buffer = append(c.buffer, event)
	c.bufferMu.Unlock()
}

// Start begins recomputing metrics at the given interval
func (c *Collector) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopChan:
				c.logger.Info("Live metrics collector stopped")
				return
			}
		}
	}()
	c.logger.Info("Live metrics collector started",
		c.logger.Args("interval", interval.String()))
}

// Stop gracefully stops the collector
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		close(c.stopChan)
	}
	c.mu.Unlock()
}

// Snapshot returns the most recently computed metrics
func (c *Collector) Snapshot() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Collector) collect() {
	now := time.Now()
	cutoff := now.Add(-BufferDuration)
	windowStart := now.Add(-rateWindow)

	c.bufferMu.Lock()

	// Prune events older than the buffer window
	firstValid := len(c.buffer)
	for i, event := range c.buffer {
		if event.Timestamp.After(cutoff) {
			firstValid = i
			break
		}
	}
	if firstValid > 0 {
		remaining := make([]AttemptEvent, len(c.buffer)-firstValid)
		copy(remaining, c.buffer[firstValid:])
		c.buffer = remaining
	}

	var (
		attemptsInWindow int64
		blocksInWindow   int64
		blocksLastMin    int64
	)
	perAddress := make(map[string]int64)

	for _, event := range c.buffer {
		perAddress[event.Address]++
		if event.Blocked {
			blocksLastMin++
		}
		if event.Timestamp.After(windowStart) {
			attemptsInWindow++
			if event.Blocked {
				blocksInWindow++
			}
		}
	}
	c.bufferMu.Unlock()

	top := make([]AddressMetrics, 0, len(perAddress))
	for address, attempts := range perAddress {
		top = append(top, AddressMetrics{Address: address, Attempts: attempts})
	}
	sort.Slice(top, func(i, j int) bool {
		return top[i].Attempts > top[j].Attempts
	})
	if len(top) > 10 {
		top = top[:10]
	}

	c.mu.Lock()
	c.current = Metrics{
		AttemptRate:     float64(attemptsInWindow) / rateWindow.Seconds(),
		BlockRate:       float64(blocksInWindow) / rateWindow.Seconds(),
		UniqueAddresses: len(perAddress),
		BlocksLastMin:   blocksLastMin,
		TopAddresses:    top,
		Timestamp:       now,
	}
	c.mu.Unlock()
}
