// Package observability aggregates live counters for the delivery
// pipeline. The health worker feeds process stats in; the debug server
// and logs read snapshots out.
package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// Stats is one point-in-time snapshot of the backbone.
type Stats struct {
	Sessions         int64   `json:"sessions"`
	ChatTopics       int64   `json:"chat_topics"`
	Delivered        uint64  `json:"delivered"`
	Published        uint64  `json:"published"`
	PublishFailures  uint64  `json:"publish_failures"`
	OverflowClosed   uint64  `json:"overflow_closed"`
	CatchupReplayed  uint64  `json:"catchup_replayed"`
	OutboxDepth      int     `json:"outbox_depth"`
	AllocMemMb       uint64  `json:"alloc_mem_mb"`
	NumGC            uint32  `json:"num_gc"`
	ProcessRssMb     float64 `json:"process_rss_mb"`
	ProcessCpuPct    float64 `json:"process_cpu_pct"`
}

type Monitor struct {
	log *slog.Logger

	Sessions        atomic.Int64
	ChatTopics      atomic.Int64
	Delivered       atomic.Uint64
	Published       atomic.Uint64
	PublishFailures atomic.Uint64
	OverflowClosed  atomic.Uint64
	CatchupReplayed atomic.Uint64

	mu          sync.RWMutex
	rssMb       float64
	cpuPct      float64
	outboxDepth func() int
}

func NewMonitor(log *slog.Logger) *Monitor {
	return &Monitor{log: log}
}

// BindOutbox lets the dispatcher expose its queue depth without the
// monitor holding a reference to the channel itself.
func (m *Monitor) BindOutbox(depth func() int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outboxDepth = depth
}

// SetProcessStats is called by the health worker with gopsutil readings.
func (m *Monitor) SetProcessStats(rssMb, cpuPct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rssMb = rssMb
	m.cpuPct = cpuPct
}

func (m *Monitor) Snapshot() Stats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	rss, cpu := m.rssMb, m.cpuPct
	depthFn := m.outboxDepth
	m.mu.RUnlock()

	depth := 0
	if depthFn != nil {
		depth = depthFn()
	}

	return Stats{
		Sessions:        m.Sessions.Load(),
		ChatTopics:      m.ChatTopics.Load(),
		Delivered:       m.Delivered.Load(),
		Published:       m.Published.Load(),
		PublishFailures: m.PublishFailures.Load(),
		OverflowClosed:  m.OverflowClosed.Load(),
		CatchupReplayed: m.CatchupReplayed.Load(),
		OutboxDepth:     depth,
		AllocMemMb:      mem.Alloc / 1024 / 1024,
		NumGC:           mem.NumGC,
		ProcessRssMb:    rss,
		ProcessCpuPct:   cpu,
	}
}

// StatsMap feeds the debug server's dashboard.
func (m *Monitor) StatsMap() map[string]any {
	s := m.Snapshot()
	return map[string]any{
		"sessions":         s.Sessions,
		"chat_topics":      s.ChatTopics,
		"delivered":        s.Delivered,
		"published":        s.Published,
		"publish_failures": s.PublishFailures,
		"overflow_closed":  s.OverflowClosed,
		"catchup_replayed": s.CatchupReplayed,
		"outbox_depth":     s.OutboxDepth,
		"alloc_mem_mb":     s.AllocMemMb,
		"num_gc":           s.NumGC,
		"process_rss_mb":   s.ProcessRssMb,
		"process_cpu_pct":  s.ProcessCpuPct,
	}
}
