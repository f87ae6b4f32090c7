package bench_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fxnlabs/gemmbench/internal/bench"
	"github.com/fxnlabs/gemmbench/internal/gpu"
	"github.com/fxnlabs/gemmbench/internal/gpu/gputest"
)

func TestRunner_Compare(t *testing.T) {
	drv := gputest.NewFakeDriver()
	drv.Clock = gputest.NewFakeClock()
	drv.GemmDuration = time.Millisecond
	drv.GemmHook = func(call gpu.GemmCall) gpu.Status {
		switch {
		case call.Flags == 1:
			// twice as slow
			drv.Clock.Advance(time.Millisecond)
		case call.Algorithm != gpu.AlgorithmDefault:
			return gputest.StatusExecutionFailed
		}
		return gpu.StatusSuccess
	}
	shape := bench.Shape{M: 1024, N: 1024, K: 1024}
	variants := []bench.Variant{
		{Name: "flags-1", Flags: 1},
		{Name: "bad-algo", Algorithm: 3},
		{Name: "standard"},
		{Name: "long-run", Warmup: bench.Count(10), Iterations: bench.Count(50)},
	}

	cmp, err := fakeRunner(t, drv, []bench.Shape{shape}, f16Options()).Compare(context.Background(), shape, gpu.F16, variants)
	require.NoError(t, err)
	require.Len(t, cmp.Outcomes, 4)

	// buffers allocated and uploaded once, freed once
	assert.Equal(t, 3, drv.Allocs)
	assert.Equal(t, 3, drv.Frees)
	assert.Equal(t, 2, drv.Uploads)
	assert.Equal(t, 1, drv.HandlesDestroyed)

	assert.Equal(t, "flags-1", cmp.Outcomes[0].Variant.Name)
	require.NotNil(t, cmp.Outcomes[0].Result)
	assert.InDelta(t, 2.147483648/2, cmp.Outcomes[0].Result.TOPS, 1e-9)

	require.NotNil(t, cmp.Outcomes[1].Failure)
	assert.Equal(t, gpu.KindGemmCallFailed, cmp.Outcomes[1].Failure.Kind)

	assert.Equal(t, 50, cmp.Outcomes[3].Result.Iterations)
	assert.Equal(t, 10, cmp.Outcomes[2].Result.Iterations)

	ranked := cmp.Ranked()
	names := make([]string, len(ranked))
	for i, o := range ranked {
		names[i] = o.Variant.Name
	}
	assert.Equal(t, []string{"standard", "long-run", "flags-1", "bad-algo"}, names)
	assert.Equal(t, "flags-1", cmp.Outcomes[0].Variant.Name, "ranking does not reorder outcomes")
}

func TestRunner_Compare_AllocationFailure(t *testing.T) {
	drv := gputest.NewFakeDriver()
	drv.MemoryLimit = 1 << 20
	shape := bench.Shape{M: 1024, N: 1024, K: 1024}

	_, err := fakeRunner(t, drv, []bench.Shape{shape}, f16Options()).Compare(context.Background(), shape, gpu.F16, bench.DefaultVariants())
	require.ErrorIs(t, err, gpu.ErrOutOfDeviceMemory)
	assert.Equal(t, drv.Allocs, drv.Frees)
	assert.Equal(t, 1, drv.HandlesDestroyed)
}

func TestDefaultVariants(t *testing.T) {
	v := bench.DefaultVariants()
	require.Len(t, v, 4)
	assert.Equal(t, "standard", v[0].Name)
	assert.Equal(t, int32(1), v[1].SolutionIndex)
	assert.Equal(t, uint32(1), v[2].Flags)
	require.NotNil(t, v[3].Iterations)
	assert.Equal(t, 50, *v[3].Iterations)
	assert.Nil(t, v[0].Warmup)
}

func TestRunner_Compare_ExplicitCounts(t *testing.T) {
	drv := gputest.NewFakeDriver()
	shape := bench.Shape{M: 256, N: 256, K: 256}
	variants := []bench.Variant{
		{Name: "cold", Warmup: bench.Count(0), Iterations: bench.Count(4)},
		{Name: "inherited"},
	}

	cmp, err := fakeRunner(t, drv, []bench.Shape{shape}, f16Options()).Compare(context.Background(), shape, gpu.F16, variants)
	require.NoError(t, err)
	require.Len(t, cmp.Outcomes, 2)

	// cold: no warmup, 4 timed; inherited: 3 warmup, 10 timed
	assert.Equal(t, 4+3+10, drv.Gemms)
	assert.Equal(t, 4, cmp.Outcomes[0].Result.Iterations)
	assert.Equal(t, 10, cmp.Outcomes[1].Result.Iterations)

	// no warmup call between the uploads and the warmup barrier
	first := slices.Index(drv.Calls, "GemmEx")
	require.GreaterOrEqual(t, first, 2)
	assert.Equal(t, "DeviceSynchronize", drv.Calls[first-1])
	assert.Equal(t, "MemcpyHostToDevice", drv.Calls[first-2])
}

func TestRunner_Compare_InvalidVariant(t *testing.T) {
	tests := []struct {
		name    string
		variant bench.Variant
		want    string
	}{
		{"zero iterations", bench.Variant{Name: "none", Iterations: bench.Count(0)}, "iterations must be positive"},
		{"negative warmup", bench.Variant{Name: "neg", Warmup: bench.Count(-1)}, "warmup must not be negative"},
		{"negative max solutions", bench.Variant{Name: "sols", Kind: bench.VariantSolutions, MaxSolutions: -1}, "maxSolutions"},
		{"unnamed", bench.Variant{}, "name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := gputest.NewFakeDriver()
			shape := bench.Shape{M: 64, N: 64, K: 64}
			_, err := fakeRunner(t, drv, []bench.Shape{shape}, f16Options()).Compare(context.Background(), shape, gpu.F16, []bench.Variant{tt.variant})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Zero(t, drv.HandlesCreated)
		})
	}
}

func TestRunner_Compare_Hgemm(t *testing.T) {
	shape := bench.Shape{M: 512, N: 512, K: 512}
	variants := []bench.Variant{
		{Name: "standard"},
		{Name: "hgemm", Kind: bench.VariantHgemm},
	}

	t.Run("f16", func(t *testing.T) {
		drv := gputest.NewFakeDriver()
		cmp, err := fakeRunner(t, drv, []bench.Shape{shape}, f16Options()).Compare(context.Background(), shape, gpu.F16, variants)
		require.NoError(t, err)
		require.Len(t, cmp.Outcomes, 2)
		require.NotNil(t, cmp.Outcomes[1].Result)
		assert.Equal(t, 3+10, drv.Hgemms)
		assert.Equal(t, 2*(3+10), drv.Gemms)
	})

	t.Run("bf16 is rejected per variant", func(t *testing.T) {
		drv := gputest.NewFakeDriver()
		cmp, err := fakeRunner(t, drv, []bench.Shape{shape}, f16Options()).Compare(context.Background(), shape, gpu.BF16, variants)
		require.NoError(t, err)
		require.NotNil(t, cmp.Outcomes[0].Result)
		require.NotNil(t, cmp.Outcomes[1].Failure)
		assert.ErrorIs(t, cmp.Outcomes[1].Failure.Err, gpu.ErrInvalidArgument)
		assert.Zero(t, drv.Hgemms)
	})
}

func TestRunner_Compare_Solutions(t *testing.T) {
	shape := bench.Shape{M: 1024, N: 1024, K: 1024}
	variants := []bench.Variant{
		{Name: "standard"},
		{Name: "tuned", Kind: bench.VariantSolutions, Flags: 4, MaxSolutions: 2},
	}

	t.Run("each solution is timed", func(t *testing.T) {
		drv := gputest.NewFakeDriver()
		drv.Solutions = []gpu.Solution{{Algorithm: 1, Index: 21}, {Algorithm: 1, Index: 8}, {Algorithm: 1, Index: 40}}
		drv.GemmDuration = time.Millisecond
		drv.GemmHook = func(call gpu.GemmCall) gpu.Status {
			if call.SolutionIndex == 8 {
				// twice as fast
				drv.Clock.Advance(-time.Millisecond / 2)
			}
			return gpu.StatusSuccess
		}

		cmp, err := fakeRunner(t, drv, []bench.Shape{shape}, f16Options()).Compare(context.Background(), shape, gpu.F16, variants)
		require.NoError(t, err)
		require.Len(t, cmp.Outcomes, 3)
		assert.Equal(t, 1, drv.CallCount("GemmSolutions"))

		names := []string{cmp.Outcomes[1].Variant.Name, cmp.Outcomes[2].Variant.Name}
		assert.Equal(t, []string{"tuned/21", "tuned/8"}, names)
		v := cmp.Outcomes[2].Variant
		assert.Equal(t, bench.VariantGemmEx, v.Kind)
		assert.Equal(t, gpu.Algorithm(1), v.Algorithm)
		assert.Equal(t, int32(8), v.SolutionIndex)
		assert.Equal(t, uint32(4), v.Flags)

		last := drv.GemmCalls[len(drv.GemmCalls)-1]
		assert.Equal(t, int32(8), last.SolutionIndex)
		assert.Equal(t, gpu.Algorithm(1), last.Algorithm)
		assert.Equal(t, "tuned/8", cmp.Ranked()[0].Variant.Name)
	})

	t.Run("no solutions", func(t *testing.T) {
		drv := gputest.NewFakeDriver()
		cmp, err := fakeRunner(t, drv, []bench.Shape{shape}, f16Options()).Compare(context.Background(), shape, gpu.F16, variants)
		require.NoError(t, err)
		require.Len(t, cmp.Outcomes, 2)
		require.NotNil(t, cmp.Outcomes[1].Failure)
		assert.Equal(t, "tuned", cmp.Outcomes[1].Variant.Name)
		assert.ErrorIs(t, cmp.Outcomes[1].Failure.Err, gpu.ErrUnsupported)
	})

	t.Run("library failure", func(t *testing.T) {
		drv := gputest.NewFakeDriver()
		drv.SolutionsStatus = gputest.StatusInvalidValue
		cmp, err := fakeRunner(t, drv, []bench.Shape{shape}, f16Options()).Compare(context.Background(), shape, gpu.F16, variants)
		require.NoError(t, err)
		require.NotNil(t, cmp.Outcomes[1].Failure)
		assert.Equal(t, gpu.KindGemmCallFailed, cmp.Outcomes[1].Failure.Kind)
	})

	t.Run("driver without solution list", func(t *testing.T) {
		drv := gputest.NewFakeDriver()
		drv.Clock = gputest.NewFakeClock()
		drv.Solutions = []gpu.Solution{{Algorithm: 1, Index: 21}}
		dev := gpu.NewDevice(struct{ gpu.Driver }{drv}, zaptest.NewLogger(t))
		r, err := bench.NewRunner(dev, []bench.Shape{shape}, f16Options(), zaptest.NewLogger(t), bench.WithClock(drv.Clock))
		require.NoError(t, err)

		cmp, err := r.Compare(context.Background(), shape, gpu.F16, variants)
		require.NoError(t, err)
		require.Len(t, cmp.Outcomes, 2)
		require.NotNil(t, cmp.Outcomes[0].Result)
		assert.ErrorIs(t, cmp.Outcomes[1].Failure.Err, gpu.ErrUnsupported)
		assert.Zero(t, drv.CallCount("GemmSolutions"))
	})
}
