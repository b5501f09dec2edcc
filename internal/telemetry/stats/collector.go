// Package stats is the per-session traffic counters and rate sampler
// engine and the rest of the packet pipeline update on every packet,
// grounded on the teacher's infrastructure/telemetry/trafficstats
// package (atomic byte counters plus an EMA-smoothed rate sampler).
// Unlike the teacher's single process-wide Collector, this tunnel
// multiplexes many peers over one process, so Collector is a per-peer
// counter and Registry (registry.go) replaces the teacher's global
// singleton with a PeerID-keyed table.
package stats

import (
	"context"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time read of a Collector's counters.
type Snapshot struct {
	RXBytesTotal uint64
	TXBytesTotal uint64
	RXRate       uint64 // bytes/sec
	TXRate       uint64 // bytes/sec
}

// HotPathFlushThresholdBytes is the batching threshold a Recorder uses
// before touching the shared Collector's atomics.
const HotPathFlushThresholdBytes uint64 = 64 * 1024

// Collector accumulates RX/TX byte counts for one peer session and
// periodically smooths them into a rate via Start.
type Collector struct {
	rxBytesTotal atomic.Uint64
	txBytesTotal atomic.Uint64
	rxRate       atomic.Uint64
	txRate       atomic.Uint64

	sampleInterval time.Duration
	emaAlpha       float64

	// accessed only from the single sampler goroutine in Start()
	lastRX  uint64
	lastTX  uint64
	rxEMA   float64
	txEMA   float64
	started atomic.Bool
}

// NewCollector constructs a Collector sampling rates every
// sampleInterval with the given EMA smoothing factor (0 disables
// smoothing; 1 tracks the instantaneous rate exactly).
func NewCollector(sampleInterval time.Duration, emaAlpha float64) *Collector {
	if sampleInterval <= 0 {
		sampleInterval = time.Second
	}
	if emaAlpha < 0 {
		emaAlpha = 0
	}
	if emaAlpha > 1 {
		emaAlpha = 1
	}
	return &Collector{
		sampleInterval: sampleInterval,
		emaAlpha:       emaAlpha,
	}
}

// Start runs the rate sampler until ctx is canceled. Safe to call at
// most once per Collector; later calls are no-ops.
func (c *Collector) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}

	ticker := time.NewTicker(c.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.updateRates(c.sampleInterval)
		}
	}
}

// AddRXBytes is allocation-free and intended for the packet hot path.
func (c *Collector) AddRXBytes(n uint64) {
	if n == 0 {
		return
	}
	c.rxBytesTotal.Add(n)
}

// AddTXBytes is allocation-free and intended for the packet hot path.
func (c *Collector) AddTXBytes(n uint64) {
	if n == 0 {
		return
	}
	c.txBytesTotal.Add(n)
}

// Snapshot reads the current counters and last-sampled rates.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		RXBytesTotal: c.rxBytesTotal.Load(),
		TXBytesTotal: c.txBytesTotal.Load(),
		RXRate:       c.rxRate.Load(),
		TXRate:       c.txRate.Load(),
	}
}

func (c *Collector) updateRates(interval time.Duration) {
	seconds := interval.Seconds()
	if seconds <= 0 {
		return
	}

	rxNow := c.rxBytesTotal.Load()
	txNow := c.txBytesTotal.Load()

	rxDelta := rxNow - c.lastRX
	txDelta := txNow - c.lastTX
	c.lastRX = rxNow
	c.lastTX = txNow

	rxPerSec := float64(rxDelta) / seconds
	txPerSec := float64(txDelta) / seconds

	if c.emaAlpha > 0 {
		if c.rxEMA == 0 {
			c.rxEMA = rxPerSec
		} else {
			c.rxEMA = c.emaAlpha*rxPerSec + (1-c.emaAlpha)*c.rxEMA
		}
		if c.txEMA == 0 {
			c.txEMA = txPerSec
		} else {
			c.txEMA = c.emaAlpha*txPerSec + (1-c.emaAlpha)*c.txEMA
		}
		rxPerSec = c.rxEMA
		txPerSec = c.txEMA
	}

	c.rxRate.Store(uint64(rxPerSec))
	c.txRate.Store(uint64(txPerSec))
}
