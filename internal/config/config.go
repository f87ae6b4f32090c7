package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fxnlabs/gemmbench/internal/bench"
	"github.com/fxnlabs/gemmbench/internal/gpu"
)

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
		Encoding  string `yaml:"encoding"`
	} `yaml:"logger"`
	Runtime struct {
		Driver          string `yaml:"driver"`
		Trace           bool   `yaml:"trace"`
		VendorLogLevel  int    `yaml:"vendorLogLevel"`
		HostMemoryBytes uint64 `yaml:"hostMemoryBytes"`
	} `yaml:"runtime"`
	Benchmark struct {
		Warmup       int           `yaml:"warmup"`
		Iterations   int           `yaml:"iterations"`
		Precisions   []string      `yaml:"precisions"`
		Layout       string        `yaml:"layout"`
		Watchdog     time.Duration `yaml:"watchdog"`
		Seed         uint64        `yaml:"seed"`
		BF16FromHalf bool          `yaml:"bf16FromHalf"`
		TopN         int           `yaml:"topN"`
	} `yaml:"benchmark"`
	Sweep   bench.Sweep `yaml:"sweep"`
	Compare struct {
		Shape     bench.Shape     `yaml:"shape"`
		Precision string          `yaml:"precision"`
		Variants  []bench.Variant `yaml:"variants"`
	} `yaml:"compare"`
	Output struct {
		JSON            string `yaml:"json"`
		Arrow           string `yaml:"arrow"`
		MetricsTextfile string `yaml:"metricsTextfile"`
	} `yaml:"output"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.Logger.Verbosity = "info"
	c.Logger.Encoding = "console"
	c.Runtime.Driver = "auto"
	c.Runtime.HostMemoryBytes = gpu.DefaultHostMemoryBytes
	c.Benchmark.Warmup = bench.DefaultWarmup
	c.Benchmark.Iterations = bench.DefaultIterations
	c.Benchmark.Precisions = []string{"bf16"}
	c.Benchmark.Layout = gpu.LayoutColumnMajor.String()
	c.Benchmark.Seed = 1
	c.Benchmark.TopN = bench.DefaultTopN
	c.Sweep = bench.Sweep{
		Mode:   bench.SweepList,
		Shapes: bench.DefaultShapes(),
		Dims:   bench.DefaultDims(),
	}
	c.Compare.Shape = bench.Shape{M: 4096, N: 4096, K: 4096}
	c.Compare.Precision = "bf16"
	c.Compare.Variants = bench.DefaultVariants()
	return &c
}

// LoadConfig reads path over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := zap.ParseAtomicLevel(c.Logger.Verbosity); err != nil {
		errs = append(errs, fmt.Errorf("logger.verbosity: %w", err))
	}
	switch c.Logger.Encoding {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logger.encoding: unknown encoding %q", c.Logger.Encoding))
	}
	switch c.Runtime.Driver {
	case "", "auto", "rocm", "cuda", "host":
	default:
		errs = append(errs, fmt.Errorf("runtime.driver: unknown driver %q", c.Runtime.Driver))
	}
	if opts, err := c.BenchOptions(); err != nil {
		errs = append(errs, err)
	} else if err := opts.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("benchmark: %w", err))
	}
	if c.Benchmark.TopN < 0 {
		errs = append(errs, fmt.Errorf("benchmark.topN must not be negative, got %d", c.Benchmark.TopN))
	}
	if _, err := c.Sweep.Expand(); err != nil {
		errs = append(errs, fmt.Errorf("sweep: %w", err))
	}
	if err := c.Compare.Shape.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("compare.shape: %w", err))
	}
	if _, err := gpu.ParseElementType(c.Compare.Precision); err != nil {
		errs = append(errs, fmt.Errorf("compare.precision: %w", err))
	}
	for i, v := range c.Compare.Variants {
		if err := v.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("compare.variants[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// DriverConfig returns the runtime section as a driver configuration.
func (c *Config) DriverConfig() gpu.DriverConfig {
	return gpu.DriverConfig{
		Name:            c.Runtime.Driver,
		Trace:           c.Runtime.Trace,
		VendorLogLevel:  c.Runtime.VendorLogLevel,
		HostMemoryBytes: c.Runtime.HostMemoryBytes,
	}
}

// BenchOptions parses the benchmark section. It does not validate ranges;
// bench.Options.Validate does.
func (c *Config) BenchOptions() (bench.Options, error) {
	opts := bench.Options{
		Warmup:       c.Benchmark.Warmup,
		Iterations:   c.Benchmark.Iterations,
		Watchdog:     c.Benchmark.Watchdog,
		Seed:         c.Benchmark.Seed,
		BF16FromHalf: c.Benchmark.BF16FromHalf,
	}
	for _, p := range c.Benchmark.Precisions {
		elem, err := gpu.ParseElementType(p)
		if err != nil {
			return bench.Options{}, fmt.Errorf("benchmark.precisions: %w", err)
		}
		opts.Precisions = append(opts.Precisions, elem)
	}
	layout, err := gpu.ParseLayout(c.Benchmark.Layout)
	if err != nil {
		return bench.Options{}, fmt.Errorf("benchmark.layout: %w", err)
	}
	opts.Layout = layout
	return opts, nil
}

// CompareElementType parses compare.precision.
func (c *Config) CompareElementType() (gpu.ElementType, error) {
	return gpu.ParseElementType(c.Compare.Precision)
}
