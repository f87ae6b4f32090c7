package gpu

import (
	"encoding/binary"
	"math"
	"math/rand/v2"

	"github.com/x448/float16"
)

// Float32ToBFloat16 keeps the top 16 bits of f, rounding to nearest even.
// NaN stays NaN and subnormals are kept.
func Float32ToBFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	if bits&0x7F800000 == 0x7F800000 && bits&0x7FFFFF != 0 {
		return uint16(bits>>16) | 0x40
	}
	bits += 0x7FFF + (bits>>16)&1
	return uint16(bits >> 16)
}

// BFloat16ToFloat32 widens a brain-float16 value.
func BFloat16ToFloat32(b uint16) float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// EncodeElement packs f as elem into dst (little endian). dst must hold
// elem.Size() bytes.
func EncodeElement(dst []byte, elem ElementType, f float32) {
	switch elem {
	case F16:
		binary.LittleEndian.PutUint16(dst, float16.Fromfloat32(f).Bits())
	case BF16:
		binary.LittleEndian.PutUint16(dst, Float32ToBFloat16(f))
	case F32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(f))
	}
}

// DecodeElement unpacks one elem-typed value from src.
func DecodeElement(src []byte, elem ElementType) float32 {
	switch elem {
	case F16:
		return float16.Frombits(binary.LittleEndian.Uint16(src)).Float32()
	case BF16:
		return BFloat16ToFloat32(binary.LittleEndian.Uint16(src))
	case F32:
		return math.Float32frombits(binary.LittleEndian.Uint32(src))
	default:
		return 0
	}
}

// HostMatrixGenerator produces the synthetic operands uploaded for each shape.
// Values are uniform in [-1, 1).
type HostMatrixGenerator struct {
	rng *rand.Rand

	// BF16FromHalf reproduces the legacy input path that packed half-precision
	// bit patterns into bf16 buffers. The bytes are then not the intended
	// values; only the input distribution changes, never the timing protocol.
	BF16FromHalf bool
}

// NewHostMatrixGenerator returns a generator seeded deterministically.
func NewHostMatrixGenerator(seed uint64) *HostMatrixGenerator {
	return &HostMatrixGenerator{rng: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))}
}

// Matrix returns a densely packed rows×cols matrix of elem.
func (g *HostMatrixGenerator) Matrix(rows, cols int, elem ElementType) []byte {
	size := int(elem.Size())
	out := make([]byte, rows*cols*size)
	for off := 0; off < len(out); off += size {
		v := g.rng.Float32()*2 - 1
		if elem == BF16 && g.BF16FromHalf {
			binary.LittleEndian.PutUint16(out[off:], float16.Fromfloat32(v).Bits())
			continue
		}
		EncodeElement(out[off:], elem, v)
	}
	return out
}
