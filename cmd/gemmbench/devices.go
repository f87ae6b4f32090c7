package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/fxnlabs/gemmbench/internal/app"
	"github.com/fxnlabs/gemmbench/internal/config"
	"github.com/fxnlabs/gemmbench/internal/gpu"
	"github.com/fxnlabs/gemmbench/internal/report"
)

func devicesCommand(cfg **config.Config) *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "Print the device count and the properties of device 0",
		Action: func(c *cli.Context) error {
			var dev *gpu.Device
			fxApp := fx.New(app.Module(*cfg), fx.Populate(&dev))
			if err := fxApp.Start(c.Context); err != nil {
				return err
			}

			err := func() error {
				count, err := dev.DeviceCount()
				if err != nil {
					return err
				}
				props, err := dev.QueryProperties(0)
				if err != nil {
					return err
				}
				report.Devices(c.App.Writer, dev.Driver().Name(), count, props)
				return nil
			}()
			return errors.Join(err, fxApp.Stop(context.Background()))
		},
	}
}
