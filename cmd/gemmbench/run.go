package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fxnlabs/gemmbench/internal/app"
	"github.com/fxnlabs/gemmbench/internal/bench"
	"github.com/fxnlabs/gemmbench/internal/config"
	"github.com/fxnlabs/gemmbench/internal/hostinfo"
	"github.com/fxnlabs/gemmbench/internal/metrics"
	"github.com/fxnlabs/gemmbench/internal/report"
)

func runCommand(cfg **config.Config) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the shape sweep and print the per-shape throughput",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "shape", Usage: "Shape `MxNxK` to run instead of the configured sweep; repeatable"},
			&cli.StringSliceFlag{Name: "precision", Usage: "Input precision (f16, bf16, f32); repeatable"},
			&cli.IntFlag{Name: "warmup", Usage: "Untimed calls per shape"},
			&cli.IntFlag{Name: "iterations", Usage: "Timed calls per shape"},
			&cli.StringFlag{Name: "layout", Usage: "Operand layout (column-major, row-major)"},
			&cli.DurationFlag{Name: "watchdog", Usage: "Abort the run if one shape takes longer than this"},
			&cli.IntFlag{Name: "top", Usage: "Number of shapes in the TOPS ranking"},
			&cli.StringFlag{Name: "json", Usage: "Write the run as JSON to `FILE`"},
			&cli.StringFlag{Name: "arrow", Usage: "Write the outcomes as an Arrow IPC file to `FILE`"},
			&cli.StringFlag{Name: "metrics-textfile", Usage: "Write Prometheus metrics to `FILE`"},
			&cli.BoolFlag{Name: "banner", Value: true, Usage: "Print the banner above the summary"},
		},
		Action: func(c *cli.Context) error {
			conf := *cfg
			if err := applyRunFlags(c, conf); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				runner *bench.Runner
				m      *metrics.Metrics
				host   hostinfo.Info
				log    *zap.Logger
			)
			fxApp := fx.New(app.Module(conf), fx.Populate(&runner, &m, &host, &log))
			if err := fxApp.Start(ctx); err != nil {
				return err
			}

			rep, runErr := runner.Run(ctx)
			if rep != nil && len(rep.Outcomes) > 0 {
				runErr = errors.Join(runErr, writeRun(c.App.Writer, conf, c.Bool("banner"), rep, host, m))
			}
			if errors.Is(runErr, bench.ErrWatchdogExpired) {
				// a call is still stalled on the device; closing the driver would block
				return cli.Exit(runErr.Error(), 2)
			}
			log.Info("Run finished", zap.Stringer("run_id", rep.RunID))
			return errors.Join(runErr, fxApp.Stop(context.Background()))
		},
	}
}

func applyRunFlags(c *cli.Context, cfg *config.Config) error {
	if c.IsSet("shape") {
		var shapes []bench.Shape
		for _, s := range c.StringSlice("shape") {
			shape, err := bench.ParseShape(s)
			if err != nil {
				return err
			}
			shapes = append(shapes, shape)
		}
		cfg.Sweep = bench.Sweep{Mode: bench.SweepList, Shapes: shapes}
	}
	if c.IsSet("precision") {
		cfg.Benchmark.Precisions = c.StringSlice("precision")
	}
	if c.IsSet("warmup") {
		cfg.Benchmark.Warmup = c.Int("warmup")
	}
	if c.IsSet("iterations") {
		cfg.Benchmark.Iterations = c.Int("iterations")
	}
	if c.IsSet("layout") {
		cfg.Benchmark.Layout = c.String("layout")
	}
	if c.IsSet("watchdog") {
		cfg.Benchmark.Watchdog = c.Duration("watchdog")
	}
	if c.IsSet("top") {
		cfg.Benchmark.TopN = c.Int("top")
	}
	if c.IsSet("json") {
		cfg.Output.JSON = c.String("json")
	}
	if c.IsSet("arrow") {
		cfg.Output.Arrow = c.String("arrow")
	}
	if c.IsSet("metrics-textfile") {
		cfg.Output.MetricsTextfile = c.String("metrics-textfile")
	}
	return cfg.Validate()
}

func writeRun(w io.Writer, cfg *config.Config, banner bool, rep *bench.Report, host hostinfo.Info, m *metrics.Metrics) error {
	var errs []error
	errs = append(errs, report.Console(w, rep, report.ConsoleOptions{
		Banner: banner,
		TopN:   cfg.Benchmark.TopN,
		Host:   host,
	}))
	if path := cfg.Output.JSON; path != "" {
		errs = append(errs, report.WriteFile(path, func(f io.Writer) error {
			return report.WriteJSON(f, report.NewDocument(rep, host))
		}))
	}
	if path := cfg.Output.Arrow; path != "" {
		errs = append(errs, report.WriteFile(path, func(f io.Writer) error {
			return report.WriteArrow(f, rep)
		}))
	}
	if path := cfg.Output.MetricsTextfile; path != "" {
		errs = append(errs, m.WriteTextfile(path))
	}
	return errors.Join(errs...)
}
