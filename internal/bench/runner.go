package bench

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/fxnlabs/gemmbench/internal/gpu"
)

// Observer receives run events as they happen. Implementations must not
// block; they are called from the sweep loop.
type Observer interface {
	ObserveDevice(driver string, props gpu.DeviceProperties)
	ObserveResult(Result)
	ObserveFailure(Failure)
	ObserveResident(bytes uint64)
}

type nopObserver struct{}

func (nopObserver) ObserveDevice(string, gpu.DeviceProperties) {}
func (nopObserver) ObserveResult(Result)                       {}
func (nopObserver) ObserveFailure(Failure)                     {}
func (nopObserver) ObserveResident(uint64)                     {}

// Runner executes the sweep against one device with one compute handle.
type Runner struct {
	dev      *gpu.Device
	shapes   []Shape
	opts     Options
	logger   *zap.Logger
	clock    Clock
	observer Observer
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithClock replaces the system clock used for the timed region.
func WithClock(c Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithObserver registers an observer for run events.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observer = o }
}

// NewRunner validates the options and the shapes and returns a runner.
func NewRunner(dev *gpu.Device, shapes []Shape, opts Options, logger *zap.Logger, options ...RunnerOption) (*Runner, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid benchmark options: %w", err)
	}
	if len(shapes) == 0 {
		return nil, fmt.Errorf("%w: no shapes to run", ErrInvalidShape)
	}
	for _, s := range shapes {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		dev:      dev,
		shapes:   slices.Clone(shapes),
		opts:     opts,
		logger:   logger.Named("bench"),
		clock:    SystemClock,
		observer: nopObserver{},
	}
	for _, o := range options {
		o(r)
	}
	return r, nil
}

// Shapes returns the sweep in order.
func (r *Runner) Shapes() []Shape {
	return slices.Clone(r.shapes)
}

// Options returns the timing options.
func (r *Runner) Options() Options {
	return r.opts
}

// setup establishes the device context: runtime reachable, device 0
// queried, compute handle created. Any failure is fatal to the run.
func (r *Runner) setup() (gpu.DeviceProperties, *gpu.ComputeHandle, error) {
	if _, err := r.dev.DeviceCount(); err != nil {
		return gpu.DeviceProperties{}, nil, err
	}
	props, err := r.dev.QueryProperties(0)
	if err != nil {
		return gpu.DeviceProperties{}, nil, err
	}
	r.observer.ObserveDevice(r.dev.Driver().Name(), props)
	handle, err := r.dev.CreateHandle()
	if err != nil {
		return props, nil, err
	}
	return props, handle, nil
}

// release destroys the handle unless a watchdog left a call stalled on it.
func (r *Runner) release(handle *gpu.ComputeHandle, stalled bool) error {
	if stalled {
		r.logger.Error("Compute handle left in place, a call on it is still stalled")
		return nil
	}
	return handle.Destroy()
}

// Run executes every precision over every shape, in order. Per-shape
// failures are recorded in the report and the sweep continues. Setup
// failures, watchdog expiry and context cancellation end the run; the
// partial report is returned with the error.
func (r *Runner) Run(ctx context.Context) (rep *Report, err error) {
	rep = newReport(r.dev.Driver().Name(), r.opts, r.clock.Now())
	defer func() { rep.Finished = r.clock.Now() }()

	props, handle, err := r.setup()
	if err != nil {
		r.logger.Error("Benchmark setup failed", zap.Error(err))
		return rep, err
	}
	rep.Device = props

	stalled := false
	defer func() {
		if derr := r.release(handle, stalled); derr != nil {
			err = errors.Join(err, fmt.Errorf("destroy compute handle: %w", derr))
		}
	}()

	gen := gpu.NewHostMatrixGenerator(r.opts.Seed)
	gen.BF16FromHalf = r.opts.BF16FromHalf
	if gen.BF16FromHalf && slices.Contains(r.opts.Precisions, gpu.BF16) {
		r.logger.Warn("bf16 inputs are half-precision bit patterns, values are approximate")
	}

	r.logger.Info("Starting sweep",
		zap.String("run_id", rep.RunID.String()),
		zap.Int("shapes", len(r.shapes)),
		zap.Int("precisions", len(r.opts.Precisions)),
		zap.Int("warmup", r.opts.Warmup),
		zap.Int("iterations", r.opts.Iterations),
		zap.Stringer("layout", r.opts.Layout))

	for _, dtype := range r.opts.Precisions {
		for _, shape := range r.shapes {
			if err := ctx.Err(); err != nil {
				r.logger.Warn("Sweep cancelled", zap.Error(err))
				return rep, err
			}

			var res Result
			serr := r.guard(func() error {
				var err error
				res, err = r.runShape(handle, gen, shape, dtype)
				return err
			})
			if errors.Is(serr, ErrWatchdogExpired) {
				stalled = true
				r.logger.Error("Shape exceeded watchdog", zap.Stringer("shape", shape), zap.Stringer("dtype", dtype), zap.Duration("watchdog", r.opts.Watchdog))
				return rep, fmt.Errorf("shape %s %s: %w", shape, dtype, serr)
			}
			r.observer.ObserveResident(r.dev.ResidentBytes())
			if serr != nil {
				f := newFailure(shape, dtype, serr)
				r.logger.Warn("Shape failed",
					zap.Uint32("m", shape.M), zap.Uint32("n", shape.N), zap.Uint32("k", shape.K),
					zap.Stringer("dtype", dtype),
					zap.Stringer("kind", f.Kind),
					zap.Error(serr))
				rep.addFailure(f)
				r.observer.ObserveFailure(f)
				continue
			}
			r.logger.Info("Shape completed",
				zap.Uint32("m", shape.M), zap.Uint32("n", shape.N), zap.Uint32("k", shape.K),
				zap.Stringer("dtype", dtype),
				zap.Float64("elapsed_ms", res.ElapsedMillis),
				zap.Float64("tops", res.TOPS))
			rep.addResult(res)
			r.observer.ObserveResult(res)
		}
	}
	return rep, nil
}

// runShape is the per-shape state machine: allocate, upload, warmup,
// barrier, timed run, barrier, measure, free. Buffers are freed on every
// path.
func (r *Runner) runShape(handle *gpu.ComputeHandle, gen *gpu.HostMatrixGenerator, shape Shape, dtype gpu.ElementType) (res Result, err error) {
	m, n, k := int(shape.M), int(shape.N), int(shape.K)

	ops, err := r.dev.AllocateOperands(m, n, k, dtype)
	if err != nil {
		return Result{}, err
	}
	r.observer.ObserveResident(r.dev.ResidentBytes())
	defer func() {
		if rerr := ops.Release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("free operands: %w", rerr))
		}
	}()

	// C is not uploaded: beta is zero, so its contents are never read.
	if err := r.upload(ops, gen.Matrix(m, k, dtype), gen.Matrix(k, n, dtype)); err != nil {
		return Result{}, err
	}

	p := gpu.PlanGemm(r.opts.Layout, m, n, k, ops)
	elapsed, err := r.measure(handle.Gemm, p, r.opts.Warmup, r.opts.Iterations)
	if err != nil {
		return Result{}, err
	}
	return newResult(shape, dtype, r.opts.Iterations, elapsed), nil
}

func (r *Runner) upload(ops *gpu.Operands, a, b []byte) error {
	if err := r.dev.Upload(ops.A, a); err != nil {
		return fmt.Errorf("upload A: %w", err)
	}
	if err := r.dev.Upload(ops.B, b); err != nil {
		return fmt.Errorf("upload B: %w", err)
	}
	return nil
}

// measure runs the timing protocol: warmup calls, one barrier, t0, the
// timed calls back to back, one barrier, t1.
func (r *Runner) measure(issue func(gpu.GemmParams) error, p gpu.GemmParams, warmup, iterations int) (time.Duration, error) {
	for i := 0; i < warmup; i++ {
		if err := issue(p); err != nil {
			r.drain()
			return 0, fmt.Errorf("warmup call %d: %w", i+1, err)
		}
	}
	if err := r.dev.Synchronize(); err != nil {
		return 0, fmt.Errorf("warmup barrier: %w", err)
	}

	t0 := r.clock.Now()
	for i := 0; i < iterations; i++ {
		if err := issue(p); err != nil {
			r.drain()
			return 0, fmt.Errorf("timed call %d: %w", i+1, err)
		}
	}
	if err := r.dev.Synchronize(); err != nil {
		return 0, fmt.Errorf("timed barrier: %w", err)
	}
	return r.clock.Now().Sub(t0), nil
}

// drain waits for calls already enqueued before their buffers are freed.
func (r *Runner) drain() {
	if err := r.dev.Synchronize(); err != nil {
		r.logger.Debug("Barrier after failed call also failed", zap.Error(err))
	}
}

func newResult(shape Shape, dtype gpu.ElementType, iterations int, elapsed time.Duration) Result {
	avg := elapsed.Seconds() / float64(iterations)
	return Result{
		Shape:         shape,
		DType:         dtype,
		Iterations:    iterations,
		ElapsedMillis: float64(elapsed) / float64(time.Millisecond),
		AvgMillis:     avg * 1e3,
		TOPS:          TOPS(shape, avg),
	}
}

// guard runs fn, bounded by the watchdog when one is configured. On expiry
// fn keeps running in the background; its result is discarded.
func (r *Runner) guard(fn func() error) error {
	if r.opts.Watchdog <= 0 {
		return fn()
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(r.opts.Watchdog)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrWatchdogExpired, r.opts.Watchdog)
	}
}
