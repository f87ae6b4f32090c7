package gpu

import (
	"fmt"
	"strings"
)

// DeviceProperties describes the single physical GPU a run is bound to.
// It is populated once at startup and never modified afterwards.
type DeviceProperties struct {
	Name             string `json:"name"`
	TotalMemoryBytes uint64 `json:"totalMemoryBytes"`
	ComputeMajor     int32  `json:"computeMajor"`
	ComputeMinor     int32  `json:"computeMinor"`
}

// ComputeCapability returns the "major.minor" form used in logs and reports.
func (p DeviceProperties) ComputeCapability() string {
	return fmt.Sprintf("%d.%d", p.ComputeMajor, p.ComputeMinor)
}

// Status is a raw status code returned by a vendor runtime or BLAS entry point.
// Zero is success; the meaning of any other value is defined by the driver.
type Status int32

// StatusSuccess is the only status every driver agrees on.
const StatusSuccess Status = 0

// OK reports whether the status is success.
func (s Status) OK() bool { return s == StatusSuccess }

// DevicePtr is an opaque device address. It is never dereferenced on the host.
type DevicePtr uintptr

// HandlePtr is an opaque BLAS context address.
type HandlePtr uintptr

// ElementType is the storage type of a matrix operand.
type ElementType int

const (
	F16 ElementType = iota
	BF16
	F32
)

// Size returns the number of bytes one element occupies on the device.
func (e ElementType) Size() uint64 {
	switch e {
	case F16, BF16:
		return 2
	case F32:
		return 4
	default:
		return 0
	}
}

func (e ElementType) String() string {
	switch e {
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	case F32:
		return "f32"
	default:
		return fmt.Sprintf("ElementType(%d)", int(e))
	}
}

// ParseElementType accepts the names printed by String, case-insensitively,
// plus the common "fp16"/"half"/"fp32" spellings.
func ParseElementType(s string) (ElementType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f16", "fp16", "half":
		return F16, nil
	case "bf16", "bfloat16":
		return BF16, nil
	case "f32", "fp32", "float":
		return F32, nil
	default:
		return 0, fmt.Errorf("unknown element type %q", s)
	}
}

// MarshalText lets element types appear by name in JSON and YAML.
func (e ElementType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *ElementType) UnmarshalText(text []byte) error {
	v, err := ParseElementType(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// ComputeType is the accumulation type of a GEMM call.
type ComputeType int

const (
	// ComputeF32 accumulates in 32-bit float. It is the only compute type used
	// for 16-bit operands.
	ComputeF32 ComputeType = iota
)

func (c ComputeType) String() string {
	if c == ComputeF32 {
		return "f32"
	}
	return fmt.Sprintf("ComputeType(%d)", int(c))
}

// Operation selects whether an operand is used as stored or transposed.
type Operation int

const (
	OpNone Operation = iota
	OpTranspose
)

func (o Operation) String() string {
	switch o {
	case OpNone:
		return "N"
	case OpTranspose:
		return "T"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

// Algorithm selects the library's kernel selection strategy. Values above
// AlgorithmDefault pick a vendor algorithm index (value-1 for cuBLAS, value
// for rocBLAS) and are only used by the compare command.
type Algorithm int

const (
	AlgorithmDefault Algorithm = iota
)

func (a Algorithm) String() string {
	if a == AlgorithmDefault {
		return "default"
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// GemmCall is the fully marshalled argument list of one extended GEMM call,
// in the library's column-major convention. Drivers translate the enums to
// their vendor tags.
type GemmCall struct {
	OpA, OpB Operation
	M, N, K  int

	Alpha float32
	A     DevicePtr
	TypeA ElementType
	LDA   int

	B     DevicePtr
	TypeB ElementType
	LDB   int

	Beta  float32
	C     DevicePtr
	TypeC ElementType
	LDC   int

	ComputeType ComputeType
	Algorithm   Algorithm

	// SolutionIndex and Flags are reserved by the library; the sweep always
	// passes zero and only the compare command varies them.
	SolutionIndex int32
	Flags         uint32
}

// Solution is one kernel the library reports as able to run a call. Passing
// Algorithm and Index back in a GemmCall pins the call to that kernel.
type Solution struct {
	Algorithm Algorithm `json:"algorithm"`
	Index     int32     `json:"index"`
}
