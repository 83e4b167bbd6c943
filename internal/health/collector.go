package health

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/aquameter/telemetry-hub/internal/hub"
)

// Broadcaster pushes named events to connected dashboard clients.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// snapshot is the payload of a health broadcast.
type snapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUUsage    float64   `json:"cpu_usage"`
	MemoryUsage float64   `json:"memory_usage"`
}

// Collector periodically samples host CPU and memory usage and broadcasts
// a health snapshot for the dashboard's system panel.
type Collector struct {
	logger      *zap.Logger
	broadcaster Broadcaster
	interval    time.Duration
	stop        chan struct{}
}

// NewCollector creates a health collector.
func NewCollector(logger *zap.Logger, broadcaster Broadcaster, interval time.Duration) *Collector {
	return &Collector{
		logger:      logger.Named("health"),
		broadcaster: broadcaster,
		interval:    interval,
		stop:        make(chan struct{}),
	}
}

// Start begins the collection loop.
func (c *Collector) Start(ctx context.Context) {
	c.logger.Info("Starting health collector", zap.Duration("interval", c.interval))
	go c.collectLoop(ctx)
}

// Stop halts the collection loop.
func (c *Collector) Stop() {
	close(c.stop)
}

func (c *Collector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *Collector) collect() {
	cpuPercent, err := cpu.Percent(0, false)
	if err != nil || len(cpuPercent) == 0 {
		c.logger.Warn("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		c.logger.Warn("Failed to get memory usage", zap.Error(err))
		return
	}

	c.broadcaster.Broadcast(hub.EventHealth, snapshot{
		Timestamp:   time.Now().UTC(),
		CPUUsage:    cpuPercent[0],
		MemoryUsage: memInfo.UsedPercent,
	})
}
