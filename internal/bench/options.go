package bench

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxnlabs/gemmbench/internal/gpu"
)

const (
	DefaultWarmup     = 3
	DefaultIterations = 10
	DefaultTopN       = 10
)

// Options control the timing protocol of every shape.
type Options struct {
	// Warmup is the number of untimed calls before the first barrier.
	Warmup int `json:"warmup"`
	// Iterations is the number of timed calls between the two barriers.
	Iterations int `json:"iterations"`
	// Precisions are swept in order, each over the full shape list.
	Precisions []gpu.ElementType `json:"precisions"`
	Layout     gpu.Layout        `json:"layout"`
	// Watchdog bounds the wall time of one shape. Zero disables it.
	Watchdog time.Duration `json:"watchdog,omitempty"`
	// Seed seeds the host data generator.
	Seed         uint64 `json:"seed"`
	BF16FromHalf bool   `json:"bf16FromHalf,omitempty"`
}

// DefaultOptions returns the validated defaults: 3 warmup calls, 10 timed
// calls, bf16 only, column-major.
func DefaultOptions() Options {
	return Options{
		Warmup:     DefaultWarmup,
		Iterations: DefaultIterations,
		Precisions: []gpu.ElementType{gpu.BF16},
		Layout:     gpu.LayoutColumnMajor,
		Seed:       1,
	}
}

// Validate checks the options. Warmup may be zero; iterations may not.
func (o Options) Validate() error {
	var errs []error
	if o.Warmup < 0 {
		errs = append(errs, fmt.Errorf("warmup must not be negative, got %d", o.Warmup))
	}
	if o.Iterations <= 0 {
		errs = append(errs, fmt.Errorf("iterations must be positive, got %d", o.Iterations))
	}
	if len(o.Precisions) == 0 {
		errs = append(errs, errors.New("at least one precision is required"))
	}
	for _, p := range o.Precisions {
		if p.Size() == 0 {
			errs = append(errs, fmt.Errorf("unsupported precision %s", p))
		}
	}
	if o.Layout != gpu.LayoutColumnMajor && o.Layout != gpu.LayoutRowMajor {
		errs = append(errs, fmt.Errorf("unsupported layout %s", o.Layout))
	}
	if o.Watchdog < 0 {
		errs = append(errs, fmt.Errorf("watchdog must not be negative, got %s", o.Watchdog))
	}
	return errors.Join(errs...)
}

// Clock is the time source of the timed region. It must be monotonic.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the monotonic wall clock.
var SystemClock Clock = systemClock{}
