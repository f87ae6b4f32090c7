package gpu

import (
	"fmt"
	"strings"
)

// GemmParams is one extended GEMM call expressed with device buffers:
//
//	C = alpha·op(A)·op(B) + beta·C
//
// in the library's column-major convention, where op(A) is M×K, op(B) is
// K×N and C is M×N.
type GemmParams struct {
	OpA, OpB Operation
	M, N, K  int

	Alpha float32
	A     *DeviceBuffer
	TypeA ElementType
	LDA   int

	B     *DeviceBuffer
	TypeB ElementType
	LDB   int

	Beta  float32
	C     *DeviceBuffer
	TypeC ElementType
	LDC   int

	ComputeType   ComputeType
	Algorithm     Algorithm
	SolutionIndex int32
	Flags         uint32
}

func (p GemmParams) call() (GemmCall, error) {
	for i, buf := range []*DeviceBuffer{p.A, p.B, p.C} {
		if buf == nil || buf.freed {
			return GemmCall{}, fmt.Errorf("operand %c: %w", "ABC"[i], ErrBufferReleased)
		}
	}
	if p.M <= 0 || p.N <= 0 || p.K <= 0 {
		return GemmCall{}, fmt.Errorf("%w: gemm dimensions %dx%dx%d", ErrInvalidArgument, p.M, p.N, p.K)
	}
	return GemmCall{
		OpA: p.OpA, OpB: p.OpB,
		M: p.M, N: p.N, K: p.K,
		Alpha: p.Alpha,
		A:     p.A.ptr, TypeA: p.TypeA, LDA: p.LDA,
		B: p.B.ptr, TypeB: p.TypeB, LDB: p.LDB,
		Beta: p.Beta,
		C:    p.C.ptr, TypeC: p.TypeC, LDC: p.LDC,
		ComputeType:   p.ComputeType,
		Algorithm:     p.Algorithm,
		SolutionIndex: p.SolutionIndex,
		Flags:         p.Flags,
	}, nil
}

// Layout says how the host-side matrices are interpreted.
type Layout int

const (
	// LayoutColumnMajor passes A, B and C as densely packed column-major
	// matrices: lda = m, ldb = k, ldc = m.
	LayoutColumnMajor Layout = iota
	// LayoutRowMajor computes a row-major C = A×B as Cᵀ = Bᵀ×Aᵀ: the library
	// sees (n, m, k) with B as its first operand (ld = n) and A as its second
	// (ld = k), and C with ldc = n.
	LayoutRowMajor
)

func (l Layout) String() string {
	switch l {
	case LayoutColumnMajor:
		return "column-major"
	case LayoutRowMajor:
		return "row-major"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// MarshalText lets layouts appear by name in JSON and YAML.
func (l Layout) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Layout) UnmarshalText(text []byte) error {
	v, err := ParseLayout(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ParseLayout accepts "column-major" and "row-major" (case-insensitive).
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "column-major", "col-major", "colmajor":
		return LayoutColumnMajor, nil
	case "row-major", "rowmajor":
		return LayoutRowMajor, nil
	default:
		return 0, fmt.Errorf("unknown layout %q", s)
	}
}

// LeadingDimensions returns lda, ldb and ldc of densely packed, non-transposed
// column-major operands for an m×n×k problem.
func LeadingDimensions(m, n, k int) (lda, ldb, ldc int) {
	return m, k, m
}

// PlanGemm builds the pure-multiply call (alpha = 1, beta = 0, no transpose,
// f32 accumulation, default algorithm) for ops under the given layout.
func PlanGemm(layout Layout, m, n, k int, ops *Operands) GemmParams {
	elem := ops.A.elem
	p := GemmParams{
		OpA:         OpNone,
		OpB:         OpNone,
		Alpha:       1,
		Beta:        0,
		TypeA:       elem,
		TypeB:       elem,
		C:           ops.C,
		TypeC:       elem,
		ComputeType: ComputeF32,
		Algorithm:   AlgorithmDefault,
	}
	switch layout {
	case LayoutRowMajor:
		p.M, p.N, p.K = n, m, k
		p.A, p.LDA = ops.B, n
		p.B, p.LDB = ops.A, k
		p.LDC = n
	default:
		p.M, p.N, p.K = m, n, k
		p.A, p.B = ops.A, ops.B
		p.LDA, p.LDB, p.LDC = LeadingDimensions(m, n, k)
	}
	return p
}
