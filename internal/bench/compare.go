package bench

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fxnlabs/gemmbench/internal/gpu"
)

// VariantKind selects the library entry point a variant times.
type VariantKind int

const (
	// VariantGemmEx times the extended GEMM call the sweep uses.
	VariantGemmEx VariantKind = iota
	// VariantHgemm times the simple half-precision GEMM. It only runs on f16.
	VariantHgemm
	// VariantSolutions asks the library which kernel solutions accept the
	// call and times each one as its own gemm-ex variant.
	VariantSolutions
)

func (k VariantKind) String() string {
	switch k {
	case VariantGemmEx:
		return "gemm-ex"
	case VariantHgemm:
		return "hgemm"
	case VariantSolutions:
		return "solutions"
	default:
		return fmt.Sprintf("VariantKind(%d)", int(k))
	}
}

// MarshalText lets variant kinds appear by name in JSON and YAML.
func (k VariantKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *VariantKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "gemm-ex", "gemmex":
		*k = VariantGemmEx
	case "hgemm":
		*k = VariantHgemm
	case "solutions":
		*k = VariantSolutions
	default:
		return fmt.Errorf("unknown variant kind %q", text)
	}
	return nil
}

// DefaultMaxSolutions caps a solutions variant that sets no MaxSolutions.
const DefaultMaxSolutions = 10

// Variant is one library configuration timed by Compare. A nil Warmup or
// Iterations inherits the runner's options; a set value, zero included, is
// used as is.
type Variant struct {
	Name          string        `yaml:"name" json:"name"`
	Kind          VariantKind   `yaml:"kind,omitempty" json:"kind"`
	Algorithm     gpu.Algorithm `yaml:"algorithm" json:"algorithm"`
	SolutionIndex int32         `yaml:"solutionIndex" json:"solutionIndex"`
	Flags         uint32        `yaml:"flags" json:"flags"`
	MaxSolutions  int           `yaml:"maxSolutions,omitempty" json:"maxSolutions,omitempty"`
	Warmup        *int          `yaml:"warmup,omitempty" json:"warmup,omitempty"`
	Iterations    *int          `yaml:"iterations,omitempty" json:"iterations,omitempty"`
}

// Validate checks the counts a variant overrides.
func (v Variant) Validate() error {
	var errs []error
	if v.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if v.Warmup != nil && *v.Warmup < 0 {
		errs = append(errs, fmt.Errorf("warmup must not be negative, got %d", *v.Warmup))
	}
	if v.Iterations != nil && *v.Iterations <= 0 {
		errs = append(errs, fmt.Errorf("iterations must be positive, got %d", *v.Iterations))
	}
	if v.MaxSolutions < 0 {
		errs = append(errs, fmt.Errorf("maxSolutions must not be negative, got %d", v.MaxSolutions))
	}
	return errors.Join(errs...)
}

func (v Variant) counts(opts Options) (warmup, iterations int) {
	warmup, iterations = opts.Warmup, opts.Iterations
	if v.Warmup != nil {
		warmup = *v.Warmup
	}
	if v.Iterations != nil {
		iterations = *v.Iterations
	}
	return warmup, iterations
}

// Count returns a pointer to n, for the Warmup and Iterations overrides.
func Count(n int) *int {
	return &n
}

// DefaultVariants are the standard call, the non-zero reserved fields, and a
// longer warmup and timed run.
func DefaultVariants() []Variant {
	return []Variant{
		{Name: "standard"},
		{Name: "solution-index-1", SolutionIndex: 1},
		{Name: "flags-1", Flags: 1},
		{Name: "long-run", Warmup: Count(10), Iterations: Count(50)},
	}
}

// VariantOutcome is the measurement of one variant, or why it has none.
type VariantOutcome struct {
	Variant Variant  `json:"variant"`
	Result  *Result  `json:"result,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

// Comparison holds the outcomes of Compare in variant order.
type Comparison struct {
	RunID    uuid.UUID            `json:"runId"`
	Driver   string               `json:"driver"`
	Device   gpu.DeviceProperties `json:"device"`
	Shape    Shape                `json:"shape"`
	DType    gpu.ElementType      `json:"dtype"`
	Layout   gpu.Layout           `json:"layout"`
	Started  time.Time            `json:"started"`
	Outcomes []VariantOutcome     `json:"outcomes"`
}

// Ranked returns the outcomes ordered by TOPS, highest first, with failed
// variants last in their original order.
func (c *Comparison) Ranked() []VariantOutcome {
	ranked := slices.Clone(c.Outcomes)
	slices.SortStableFunc(ranked, func(a, b VariantOutcome) int {
		switch {
		case a.Result == nil && b.Result == nil:
			return 0
		case a.Result == nil:
			return 1
		case b.Result == nil:
			return -1
		case a.Result.TOPS > b.Result.TOPS:
			return -1
		case a.Result.TOPS < b.Result.TOPS:
			return 1
		default:
			return 0
		}
	})
	return ranked
}

// Compare times each variant on a single shape. The buffers are allocated
// and uploaded once and freed once at the end. A variant whose call fails
// is recorded and skipped; failures before the first variant are returned.
// A solutions variant is replaced in the outcomes by one entry per kernel
// solution the library reports.
func (r *Runner) Compare(ctx context.Context, shape Shape, dtype gpu.ElementType, variants []Variant) (cmp *Comparison, err error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, errors.New("no variants to compare")
	}
	for i, v := range variants {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("variant %d: %w", i, err)
		}
	}
	cmp = &Comparison{
		RunID:   uuid.New(),
		Driver:  r.dev.Driver().Name(),
		Shape:   shape,
		DType:   dtype,
		Layout:  r.opts.Layout,
		Started: r.clock.Now(),
	}

	props, handle, err := r.setup()
	if err != nil {
		return cmp, err
	}
	cmp.Device = props
	stalled := false
	defer func() {
		if derr := r.release(handle, stalled); derr != nil {
			err = errors.Join(err, fmt.Errorf("destroy compute handle: %w", derr))
		}
	}()

	m, n, k := int(shape.M), int(shape.N), int(shape.K)
	ops, err := r.dev.AllocateOperands(m, n, k, dtype)
	if err != nil {
		return cmp, fmt.Errorf("shape %s %s: %w", shape, dtype, err)
	}
	defer func() {
		if stalled {
			return
		}
		if rerr := ops.Release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("free operands: %w", rerr))
		}
	}()

	gen := gpu.NewHostMatrixGenerator(r.opts.Seed)
	gen.BF16FromHalf = r.opts.BF16FromHalf
	if err := r.upload(ops, gen.Matrix(m, k, dtype), gen.Matrix(k, n, dtype)); err != nil {
		return cmp, fmt.Errorf("shape %s %s: %w", shape, dtype, err)
	}
	base := gpu.PlanGemm(r.opts.Layout, m, n, k, ops)

	for _, v := range variants {
		if err := ctx.Err(); err != nil {
			return cmp, err
		}
		expanded := []Variant{v}
		if v.Kind == VariantSolutions {
			var failure *Failure
			expanded, failure = r.solutions(handle, base, shape, dtype, v)
			if failure != nil {
				cmp.Outcomes = append(cmp.Outcomes, VariantOutcome{Variant: v, Failure: failure})
				continue
			}
		}
		for _, c := range expanded {
			if err := ctx.Err(); err != nil {
				return cmp, err
			}
			outcome, err := r.timeVariant(handle, base, shape, dtype, c)
			if err != nil {
				stalled = true
				return cmp, err
			}
			cmp.Outcomes = append(cmp.Outcomes, outcome)
		}
	}
	return cmp, nil
}

// timeVariant measures one variant. The error is only set when the watchdog
// expired; every other failure is part of the outcome.
func (r *Runner) timeVariant(handle *gpu.ComputeHandle, base gpu.GemmParams, shape Shape, dtype gpu.ElementType, v Variant) (VariantOutcome, error) {
	warmup, iterations := v.counts(r.opts)
	p := base
	p.Algorithm = v.Algorithm
	p.SolutionIndex = v.SolutionIndex
	p.Flags = v.Flags
	issue := handle.Gemm
	if v.Kind == VariantHgemm {
		issue = handle.Hgemm
	}

	var elapsed time.Duration
	verr := r.guard(func() error {
		var err error
		elapsed, err = r.measure(issue, p, warmup, iterations)
		return err
	})
	if errors.Is(verr, ErrWatchdogExpired) {
		return VariantOutcome{}, fmt.Errorf("variant %s: %w", v.Name, verr)
	}
	if verr != nil {
		f := newFailure(shape, dtype, verr)
		r.logger.Warn("Variant failed", zap.String("variant", v.Name), zap.Stringer("kind", f.Kind), zap.Error(verr))
		return VariantOutcome{Variant: v, Failure: &f}, nil
	}
	res := newResult(shape, dtype, iterations, elapsed)
	r.logger.Info("Variant completed",
		zap.String("variant", v.Name),
		zap.Stringer("shape", shape),
		zap.Int("warmup", warmup),
		zap.Float64("elapsed_ms", res.ElapsedMillis),
		zap.Float64("tops", res.TOPS))
	return VariantOutcome{Variant: v, Result: &res}, nil
}

// solutions expands v into one gemm-ex variant per kernel solution, named
// "<name>/<index>" in the order the library ranks them.
func (r *Runner) solutions(handle *gpu.ComputeHandle, base gpu.GemmParams, shape Shape, dtype gpu.ElementType, v Variant) ([]Variant, *Failure) {
	limit := v.MaxSolutions
	if limit == 0 {
		limit = DefaultMaxSolutions
	}
	p := base
	p.Flags = v.Flags
	sols, err := handle.Solutions(p, limit)
	if err == nil && len(sols) == 0 {
		err = fmt.Errorf("%w: no kernel solutions for %s %s", gpu.ErrUnsupported, shape, dtype)
	}
	if err != nil {
		f := newFailure(shape, dtype, err)
		r.logger.Warn("Variant failed", zap.String("variant", v.Name), zap.Stringer("kind", f.Kind), zap.Error(err))
		return nil, &f
	}
	r.logger.Info("Listed kernel solutions", zap.String("variant", v.Name), zap.Int("count", len(sols)))

	out := make([]Variant, 0, len(sols))
	for _, s := range sols {
		c := v
		c.Name = fmt.Sprintf("%s/%d", v.Name, s.Index)
		c.Kind = VariantGemmEx
		c.Algorithm = s.Algorithm
		c.SolutionIndex = s.Index
		out = append(out, c)
	}
	return out, nil
}
