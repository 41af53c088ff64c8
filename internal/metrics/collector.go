package metrics

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// SystemMetrics holds a system metrics snapshot
type SystemMetrics struct {
	CPUPercent        float64 // System-wide CPU usage (0-100%)
	ProcessCPUPercent float64 // This process, per core, can exceed 100%
	ProcessRSSMB      float64
	MemoryPercent     float64
	NetRecvMBps       float64
	NetSentMBps       float64
	Progress          map[string]int64
	Timestamp         time.Time
}

// Counter reports a running total, such as tiles fetched so far
type Counter func() int64

// Collector periodically collects and logs system metrics
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	counters map[string]Counter

	lastNet     net.IOCountersStat
	lastNetTime time.Time
	hasNet      bool

	mu          sync.RWMutex
	lastMetrics *SystemMetrics
}

// NewCollector creates a new metrics collector
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}

	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
		counters: make(map[string]Counter),
	}
}

// Track adds a progress counter logged with every sample. Call before Start.
func (c *Collector) Track(name string, counter Counter) {
	c.counters[name] = counter
}

// Start begins periodic metrics collection. Returns when ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// First sample sets the network baseline
	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// GetMetrics returns the last collected metrics
func (c *Collector) GetMetrics() *SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMetrics
}

func (c *Collector) collect() {
	m := &SystemMetrics{
		Timestamp: time.Now(),
		Progress:  make(map[string]int64, len(c.counters)),
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			m.ProcessCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil {
			m.ProcessRSSMB = float64(info.RSS) / (1024 * 1024)
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		m.MemoryPercent = vmem.UsedPercent
	}
	m.NetRecvMBps, m.NetSentMBps = c.netRates(m.Timestamp)

	fields := []zap.Field{
		zap.Float64("sys_cpu", m.CPUPercent),
		zap.Float64("proc_cpu", m.ProcessCPUPercent),
		zap.String("proc_rss", formatFloat(m.ProcessRSSMB)+" MB"),
		zap.Float64("mem_pct", m.MemoryPercent),
		zap.String("net_rx", formatFloat(m.NetRecvMBps)+" MB/s"),
		zap.String("net_tx", formatFloat(m.NetSentMBps)+" MB/s"),
	}
	for name, counter := range c.counters {
		v := counter()
		m.Progress[name] = v
		fields = append(fields, zap.Int64(name, v))
	}

	c.mu.Lock()
	c.lastMetrics = m
	c.mu.Unlock()

	c.logger.Info("System metrics", fields...)
}

// netRates returns receive and send rates since the previous sample
func (c *Collector) netRates(now time.Time) (recvMBps, sentMBps float64) {
	counters, err := net.IOCounters(false) // false = aggregate across interfaces
	if err != nil || len(counters) == 0 {
		return 0, 0
	}
	current := counters[0]

	if !c.hasNet {
		c.lastNet, c.lastNetTime, c.hasNet = current, now, true
		return 0, 0
	}

	elapsed := now.Sub(c.lastNetTime).Seconds()
	last := c.lastNet
	c.lastNet, c.lastNetTime = current, now
	if elapsed < 0.1 {
		return 0, 0
	}

	// Counters can wrap or reset with interfaces
	if current.BytesRecv >= last.BytesRecv {
		recvMBps = float64(current.BytesRecv-last.BytesRecv) / elapsed / (1024 * 1024)
	}
	if current.BytesSent >= last.BytesSent {
		sentMBps = float64(current.BytesSent-last.BytesSent) / elapsed / (1024 * 1024)
	}
	return recvMBps, sentMBps
}

// formatFloat formats with one decimal place
func formatFloat(f float64) string {
	if f < 0.05 {
		return "0.0"
	}
	return strconv.FormatFloat(f, 'f', 1, 64)
}
