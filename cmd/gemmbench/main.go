package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/fxnlabs/gemmbench/internal/config"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run returns the process exit code. Errors reach stderr as plain text
// because they may come from flags or config, before any logger exists.
func run(args []string, stdout, stderr io.Writer) int {
	if err := newApp(stdout).Run(args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newApp(stdout io.Writer) *cli.App {
	var cfg *config.Config

	return &cli.App{
		Name:   "gemmbench",
		Usage:  "Measure raw GEMM throughput of a GPU across a sweep of matrix shapes",
		Writer: stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Load configuration from `FILE`; defaults apply when omitted",
				EnvVars: []string{"GEMMBENCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "verbosity",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"GEMMBENCH_VERBOSITY"},
			},
			&cli.StringFlag{
				Name:    "driver",
				Usage:   "Runtime driver (auto, rocm, cuda, host)",
				EnvVars: []string{"GEMMBENCH_DRIVER"},
			},
			&cli.BoolFlag{
				Name:    "trace",
				Usage:   "Log every raw runtime and BLAS call at debug level",
				EnvVars: []string{"GEMMBENCH_TRACE"},
			},
		},
		Before: func(c *cli.Context) error {
			// init writes the template and needs no configuration
			if c.Args().First() == "init" {
				return nil
			}
			var err error
			cfg, err = loadConfig(c)
			return err
		},
		Commands: []*cli.Command{
			runCommand(&cfg),
			compareCommand(&cfg),
			devicesCommand(&cfg),
			initCommand(),
		},
	}
}

// loadConfig reads --config, or the defaults, and applies the global flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if c.IsSet("verbosity") {
		cfg.Logger.Verbosity = c.String("verbosity")
	}
	if c.IsSet("driver") {
		cfg.Runtime.Driver = c.String("driver")
	}
	if c.IsSet("trace") {
		cfg.Runtime.Trace = c.Bool("trace")
	}
	return cfg, cfg.Validate()
}
