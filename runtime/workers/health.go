package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"agora/observability"
)

// HealthWorker samples the process on a fixed interval and feeds the
// readings into the monitor, where the debug server and the periodic
// stats log pick them up.
type HealthWorker struct {
	log      *slog.Logger
	monitor  *observability.Monitor
	interval time.Duration
}

func NewHealthWorker(log *slog.Logger, monitor *observability.Monitor,
	interval time.Duration) *HealthWorker {
	return &HealthWorker{log: log, monitor: monitor, interval: interval}
}

func (w *HealthWorker) Run(ctx context.Context) error {
	w.log.Info("Starting health worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			w.monitor.SetProcessStats(rss, cpu)

			stats := w.monitor.Snapshot()
			w.log.Info("Node status",
				"sessions", stats.Sessions,
				"chat_topics", stats.ChatTopics,
				"delivered", stats.Delivered,
				"published", stats.Published,
				"outbox_depth", stats.OutboxDepth,
				"rss_mb", stats.ProcessRssMb,
				"cpu_pct", stats.ProcessCpuPct)
		}
	}
}

// selfStats retrieves memory and CPU readings for the given process.
func selfStats(p *process.Process) (float64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return float64(memInfo.RSS) / 1024 / 1024, cpuPercent, nil
}
