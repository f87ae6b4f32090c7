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

	"github.com/fxnlabs/gemmbench/internal/app"
	"github.com/fxnlabs/gemmbench/internal/bench"
	"github.com/fxnlabs/gemmbench/internal/config"
	"github.com/fxnlabs/gemmbench/internal/hostinfo"
	"github.com/fxnlabs/gemmbench/internal/report"
)

func compareCommand(cfg **config.Config) *cli.Command {
	return &cli.Command{
		Name:  "compare",
		Usage: "Time the configured algorithm variants on a single shape",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "shape", Usage: "Shape `MxNxK` to compare on"},
			&cli.StringFlag{Name: "precision", Usage: "Input precision (f16, bf16, f32)"},
			&cli.StringFlag{Name: "json", Usage: "Write the comparison as JSON to `FILE`"},
		},
		Action: func(c *cli.Context) error {
			conf := *cfg
			if c.IsSet("shape") {
				shape, err := bench.ParseShape(c.String("shape"))
				if err != nil {
					return err
				}
				conf.Compare.Shape = shape
			}
			if c.IsSet("precision") {
				conf.Compare.Precision = c.String("precision")
			}
			if err := conf.Validate(); err != nil {
				return err
			}
			dtype, err := conf.CompareElementType()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				runner *bench.Runner
				host   hostinfo.Info
			)
			fxApp := fx.New(app.Module(conf), fx.Populate(&runner, &host))
			if err := fxApp.Start(ctx); err != nil {
				return err
			}

			cmp, cmpErr := runner.Compare(ctx, conf.Compare.Shape, dtype, conf.Compare.Variants)
			if cmpErr == nil {
				cmpErr = report.Comparison(c.App.Writer, cmp, host)
				if path := c.String("json"); path != "" {
					cmpErr = errors.Join(cmpErr, report.WriteFile(path, func(w io.Writer) error {
						return report.WriteJSON(w, cmp)
					}))
				}
			}
			return errors.Join(cmpErr, fxApp.Stop(context.Background()))
		},
	}
}
