package realtime

import (
	"fmt"
	"testing"
	"time"

	"github.com/pterm/pterm"
)

func newTestCollector() *Collector {
	return NewCollector(pterm.DefaultLogger.WithLevel(pterm.LogLevelError))
}

func TestCollect_CountsUniqueAddressesAndBlocks(t *testing.T) {
	collector := newTestCollector()
	now := time.Now()

	collector.Ingest(AttemptEvent{Address: "203.0.113.1", Timestamp: now})
	collector.Ingest(AttemptEvent{Address: "203.0.113.1", Timestamp: now})
	collector.Ingest(AttemptEvent{Address: "203.0.113.2", Blocked: true, Timestamp: now})
	collector.collect()

	metrics := collector.Snapshot()
	if metrics.UniqueAddresses != 2 {
		t.Errorf("Expected 2 unique addresses, got %d", metrics.UniqueAddresses)
	}
	if metrics.BlocksLastMin != 1 {
		t.Errorf("Expected 1 block in the last minute, got %d", metrics.BlocksLastMin)
	}
	if metrics.AttemptRate <= 0 {
		t.Errorf("Expected positive attempt rate, got %f", metrics.AttemptRate)
	}
}

func TestCollect_PrunesOldEvents(t *testing.T) {
	collector := newTestCollector()

	collector.Ingest(AttemptEvent{Address: "203.0.113.1", Timestamp: time.Now().Add(-2 * time.Minute)})
	collector.Ingest(AttemptEvent{Address: "203.0.113.2", Timestamp: time.Now()})
	collector.collect()

	metrics := collector.Snapshot()
	if metrics.UniqueAddresses != 1 {
		t.Errorf("Expected old event pruned, got %d unique addresses", metrics.UniqueAddresses)
	}
}

func TestCollect_TopAddressesRankedAndCapped(t *testing.T) {
	collector := newTestCollector()
	now := time.Now()

	for i := 0; i < 15; i++ {
		address := fmt.Sprintf("203.0.113.%d", i+1)
		for j := 0; j <= i; j++ {
			collector.Ingest(AttemptEvent{Address: address, Timestamp: now})
		}
	}
	collector.collect()

	metrics := collector.Snapshot()
	if len(metrics.TopAddresses) != 10 {
		t.Fatalf("Expected top list capped at 10, got %d", len(metrics.TopAddresses))
	}
	if metrics.TopAddresses[0].Address != "203.0.113.15" {
		t.Errorf("Expected heaviest offender first, got '%s'", metrics.TopAddresses[0].Address)
	}
	for i := 1; i < len(metrics.TopAddresses); i++ {
		if metrics.TopAddresses[i].Attempts > metrics.TopAddresses[i-1].Attempts {
			t.Errorf("Expected descending order at index %d", i)
		}
	}
}

func TestStop_Idempotent(t *testing.T) {
	collector := newTestCollector()
	collector.Start(10 * time.Millisecond)

	collector.Stop()
	collector.Stop() // second stop must not panic
}
