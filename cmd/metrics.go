package cmd

import (
	"context"

	"go.uber.org/zap"

	"github.com/wegman-software/osm-tileset/internal/logger"
	"github.com/wegman-software/osm-tileset/internal/metrics"
)

// startMetrics logs system metrics in the background until the returned
// stop function is called. Counters are logged with every sample.
func startMetrics(ctx context.Context, counters map[string]metrics.Counter) (stop func()) {
	if cfg.MetricsInterval <= 0 {
		return func() {}
	}
	log := logger.Get()

	metricsCtx, cancel := context.WithCancel(ctx)
	collector := metrics.NewCollector(cfg.MetricsInterval, log)
	for name, c := range counters {
		collector.Track(name, c)
	}
	go collector.Start(metricsCtx)
	log.Info("System metrics collection started", zap.Duration("interval", cfg.MetricsInterval))
	return cancel
}
