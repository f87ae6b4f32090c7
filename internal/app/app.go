// Package app wires the benchmark components into an fx application graph.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fxnlabs/gemmbench/internal/bench"
	"github.com/fxnlabs/gemmbench/internal/config"
	"github.com/fxnlabs/gemmbench/internal/gpu"
	"github.com/fxnlabs/gemmbench/internal/hostinfo"
	"github.com/fxnlabs/gemmbench/internal/logger"
	"github.com/fxnlabs/gemmbench/internal/metrics"
)

// Module provides the logger, driver, device, metrics and runner for cfg.
// The driver is closed when the application stops.
func Module(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			NewLogger,
			NewDriver,
			NewDevice,
			NewMetrics,
			NewRunner,
			hostinfo.Detect,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: log.Named("fx")}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
	)
}

func NewLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.NewWithEncoding(cfg.Logger.Verbosity, cfg.Logger.Encoding)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() {
		_ = log.Sync()
	}))
	return log, nil
}

func NewDriver(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (gpu.Driver, error) {
	drv, err := gpu.NewDriver(cfg.DriverConfig(), log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return drv.Close()
		},
	})
	return drv, nil
}

func NewDevice(drv gpu.Driver, log *zap.Logger) *gpu.Device {
	return gpu.NewDevice(drv, log)
}

func NewMetrics() *metrics.Metrics {
	return metrics.New(nil)
}

// NewRunner builds the sweep runner from the benchmark and sweep sections.
func NewRunner(cfg *config.Config, dev *gpu.Device, m *metrics.Metrics, log *zap.Logger) (*bench.Runner, error) {
	opts, err := cfg.BenchOptions()
	if err != nil {
		return nil, err
	}
	shapes, err := cfg.Sweep.Expand()
	if err != nil {
		return nil, err
	}
	return bench.NewRunner(dev, shapes, opts, log, bench.WithObserver(m))
}
