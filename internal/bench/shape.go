// Package bench drives the GEMM benchmark: it expands the shape sweep, runs
// each shape through allocate, upload, warmup, timed run and free, derives
// throughput and aggregates the outcomes.
package bench

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

var (
	// ErrInvalidShape is returned for shapes with a zero dimension.
	ErrInvalidShape = errors.New("invalid shape")
	// ErrWatchdogExpired aborts a run whose current shape exceeded the
	// configured watchdog. The stalled call cannot be cancelled.
	ErrWatchdogExpired = errors.New("watchdog expired")
)

// Shape gives the dimensions of C(m×n) = A(m×k) × B(k×n).
type Shape struct {
	M uint32 `yaml:"m" json:"m"`
	N uint32 `yaml:"n" json:"n"`
	K uint32 `yaml:"k" json:"k"`
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.M, s.N, s.K)
}

// ParseShape parses the "MxNxK" form printed by String.
func ParseShape(s string) (Shape, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 3 {
		return Shape{}, fmt.Errorf("%w: %q is not of the form MxNxK", ErrInvalidShape, s)
	}
	var dims [3]uint32
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return Shape{}, fmt.Errorf("%w: %q: %v", ErrInvalidShape, s, err)
		}
		dims[i] = uint32(v)
	}
	shape := Shape{M: dims[0], N: dims[1], K: dims[2]}
	return shape, shape.Validate()
}

// Validate rejects shapes with a zero dimension.
func (s Shape) Validate() error {
	if s.M == 0 || s.N == 0 || s.K == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidShape, s)
	}
	return nil
}

// Ops returns the operation count of one GEMM, 2·m·n·k.
func (s Shape) Ops() float64 {
	return 2 * float64(s.M) * float64(s.N) * float64(s.K)
}

// TOPS returns the throughput in tera-operations per second of one GEMM of
// shape s taking avgSeconds. A non-positive duration yields 0.
func TOPS(s Shape, avgSeconds float64) float64 {
	if avgSeconds <= 0 {
		return 0
	}
	return s.Ops() / (avgSeconds * 1e12)
}

// SweepMode selects how the shape list is produced.
type SweepMode string

const (
	// SweepList runs an explicit ordered list of shapes.
	SweepList SweepMode = "list"
	// SweepCartesian runs every (m, n, k) drawn from a dimension set.
	SweepCartesian SweepMode = "cartesian"
)

// DefaultShapes is the quick sweep: four cubes and one rectangular shape.
func DefaultShapes() []Shape {
	return []Shape{
		{M: 1024, N: 1024, K: 1024},
		{M: 2048, N: 2048, K: 2048},
		{M: 4096, N: 4096, K: 4096},
		{M: 8192, N: 8192, K: 8192},
		{M: 2048, N: 4096, K: 2048},
	}
}

// DefaultDims is the dimension set of the cartesian sweep.
func DefaultDims() []uint32 {
	return []uint32{1024, 2048, 4096, 8192}
}

// Sweep describes the ordered sequence of shapes under test.
type Sweep struct {
	Mode   SweepMode `yaml:"mode" json:"mode"`
	Shapes []Shape   `yaml:"shapes" json:"shapes,omitempty"`
	Dims   []uint32  `yaml:"dims" json:"dims,omitempty"`
}

// Expand returns the shapes in sweep order. The cartesian product nests
// m, then n, then k.
func (s Sweep) Expand() ([]Shape, error) {
	switch s.Mode {
	case SweepList, "":
		if len(s.Shapes) == 0 {
			return nil, fmt.Errorf("%w: empty shape list", ErrInvalidShape)
		}
		for _, shape := range s.Shapes {
			if err := shape.Validate(); err != nil {
				return nil, err
			}
		}
		return slices.Clone(s.Shapes), nil
	case SweepCartesian:
		if len(s.Dims) == 0 {
			return nil, fmt.Errorf("%w: empty dimension set", ErrInvalidShape)
		}
		shapes := make([]Shape, 0, len(s.Dims)*len(s.Dims)*len(s.Dims))
		for _, m := range s.Dims {
			for _, n := range s.Dims {
				for _, k := range s.Dims {
					shape := Shape{M: m, N: n, K: k}
					if err := shape.Validate(); err != nil {
						return nil, err
					}
					shapes = append(shapes, shape)
				}
			}
		}
		return shapes, nil
	default:
		return nil, fmt.Errorf("unknown sweep mode %q", s.Mode)
	}
}
