package bench

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTOPS(t *testing.T) {
	tests := []struct {
		name  string
		shape Shape
		avg   float64
		want  float64
	}{
		{"1024 cube at 1ms", Shape{1024, 1024, 1024}, 1e-3, 2.147483648},
		{"8192 cube at 10ms", Shape{8192, 8192, 8192}, 1e-2, 109.9511627776},
		{"rectangular", Shape{2048, 4096, 2048}, 2e-3, 17.179869184},
		{"zero duration", Shape{64, 64, 64}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, TOPS(tt.shape, tt.avg), 1e-9)
		})
	}
}

func TestShape_Validate(t *testing.T) {
	assert.NoError(t, Shape{1, 2, 3}.Validate())
	assert.ErrorIs(t, Shape{0, 2, 3}.Validate(), ErrInvalidShape)
	assert.ErrorIs(t, Shape{1, 2, 0}.Validate(), ErrInvalidShape)
	assert.Equal(t, "2048x4096x1024", Shape{2048, 4096, 1024}.String())
}

func TestParseShape(t *testing.T) {
	shape, err := ParseShape("2048x4096x1024")
	require.NoError(t, err)
	assert.Equal(t, Shape{M: 2048, N: 4096, K: 1024}, shape)

	shape, err = ParseShape(" 8X8X8 ")
	require.NoError(t, err)
	assert.Equal(t, "8x8x8", shape.String())

	for _, bad := range []string{"", "8x8", "8x8x8x8", "8xax8", "0x8x8", "-1x8x8", "8x8x4294967296"} {
		t.Run(bad, func(t *testing.T) {
			_, err := ParseShape(bad)
			assert.ErrorIs(t, err, ErrInvalidShape)
		})
	}
}

func TestSweep_Expand(t *testing.T) {
	t.Run("default list", func(t *testing.T) {
		shapes, err := Sweep{Mode: SweepList, Shapes: DefaultShapes()}.Expand()
		require.NoError(t, err)
		require.Len(t, shapes, 5)
		assert.Equal(t, Shape{1024, 1024, 1024}, shapes[0])
		assert.Equal(t, Shape{2048, 4096, 2048}, shapes[4])
	})

	t.Run("cartesian nests m then n then k", func(t *testing.T) {
		shapes, err := Sweep{Mode: SweepCartesian, Dims: []uint32{1, 2}}.Expand()
		require.NoError(t, err)
		assert.Equal(t, []Shape{
			{1, 1, 1}, {1, 1, 2}, {1, 2, 1}, {1, 2, 2},
			{2, 1, 1}, {2, 1, 2}, {2, 2, 1}, {2, 2, 2},
		}, shapes)
	})

	t.Run("default cartesian size", func(t *testing.T) {
		shapes, err := Sweep{Mode: SweepCartesian, Dims: DefaultDims()}.Expand()
		require.NoError(t, err)
		assert.Len(t, shapes, 64)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := Sweep{Mode: SweepList}.Expand()
		assert.ErrorIs(t, err, ErrInvalidShape)
		_, err = Sweep{Mode: SweepList, Shapes: []Shape{{0, 1, 1}}}.Expand()
		assert.ErrorIs(t, err, ErrInvalidShape)
		_, err = Sweep{Mode: SweepCartesian, Dims: []uint32{0}}.Expand()
		assert.ErrorIs(t, err, ErrInvalidShape)
		_, err = Sweep{Mode: "random"}.Expand()
		assert.Error(t, err)
	})

	t.Run("expanded list is a copy", func(t *testing.T) {
		in := []Shape{{1, 1, 1}}
		out, err := Sweep{Shapes: in}.Expand()
		require.NoError(t, err)
		out[0].M = 9
		assert.Equal(t, uint32(1), in[0].M)
	})
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	o := DefaultOptions()
	o.Warmup = 0
	assert.NoError(t, o.Validate())

	o = DefaultOptions()
	o.Iterations = 0
	assert.Error(t, o.Validate())

	o = DefaultOptions()
	o.Precisions = nil
	assert.Error(t, o.Validate())

	o = DefaultOptions()
	o.Warmup = -1
	o.Watchdog = -1
	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warmup")
	assert.Contains(t, err.Error(), "watchdog")
}
