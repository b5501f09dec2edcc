package stats

import (
	"context"
	"sync"
	"time"

	"github.com/BanjoFox/protected-point-to-point-sub001/domain"
)

// Registry holds one Collector per peer, replacing the teacher's
// single process-wide global collector: a tunnel process here speaks
// to many peers at once (spec.md §3's per-peer session table), so
// STATUS_REQ/STATUS_RESP (spec.md §4.7) and any future monitoring
// surface need counters addressable by domain.PeerID rather than one
// process-wide total.
type Registry struct {
	mu         sync.Mutex
	collectors map[domain.PeerID]*Collector

	sampleInterval time.Duration
	emaAlpha       float64
}

// NewRegistry constructs an empty Registry. sampleInterval and emaAlpha
// are applied to every Collector it creates.
func NewRegistry(sampleInterval time.Duration, emaAlpha float64) *Registry {
	return &Registry{
		collectors:     make(map[domain.PeerID]*Collector),
		sampleInterval: sampleInterval,
		emaAlpha:       emaAlpha,
	}
}

// Collector returns the Collector for id, creating one on first use.
func (r *Registry) Collector(id domain.PeerID) *Collector {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collectors[id]
	if !ok {
		c = NewCollector(r.sampleInterval, r.emaAlpha)
		r.collectors[id] = c
	}
	return c
}

// Snapshot reads the counters for id, or a zero Snapshot if id has
// never recorded traffic.
func (r *Registry) Snapshot(id domain.PeerID) Snapshot {
	r.mu.Lock()
	c, ok := r.collectors[id]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}
	}
	return c.Snapshot()
}

// All returns a snapshot of every peer currently tracked.
func (r *Registry) All() map[domain.PeerID]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.PeerID]Snapshot, len(r.collectors))
	for id, c := range r.collectors {
		out[id] = c.Snapshot()
	}
	return out
}

// StartAll launches the rate sampler for every Collector currently
// registered. Collectors added after StartAll is called must be
// started individually via Collector(id).Start.
func (r *Registry) StartAll(ctx context.Context) {
	r.mu.Lock()
	collectors := make([]*Collector, 0, len(r.collectors))
	for _, c := range r.collectors {
		collectors = append(collectors, c)
	}
	r.mu.Unlock()
	for _, c := range collectors {
		go c.Start(ctx)
	}
}
