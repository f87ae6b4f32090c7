package bench_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fxnlabs/gemmbench/internal/bench"
	"github.com/fxnlabs/gemmbench/internal/gpu"
	"github.com/fxnlabs/gemmbench/internal/gpu/gputest"
)

type recorder struct {
	driver   string
	props    gpu.DeviceProperties
	results  []bench.Result
	failures []bench.Failure
	resident []uint64
}

func (r *recorder) ObserveDevice(driver string, props gpu.DeviceProperties) {
	r.driver, r.props = driver, props
}
func (r *recorder) ObserveResult(res bench.Result) { r.results = append(r.results, res) }
func (r *recorder) ObserveFailure(f bench.Failure) { r.failures = append(r.failures, f) }
func (r *recorder) ObserveResident(bytes uint64)   { r.resident = append(r.resident, bytes) }

func fakeRunner(t *testing.T, drv *gputest.FakeDriver, shapes []bench.Shape, opts bench.Options, extra ...bench.RunnerOption) *bench.Runner {
	t.Helper()
	if drv.Clock == nil {
		drv.Clock = gputest.NewFakeClock()
	}
	options := append([]bench.RunnerOption{bench.WithClock(drv.Clock)}, extra...)
	r, err := bench.NewRunner(gpu.NewDevice(drv, zaptest.NewLogger(t)), shapes, opts, zaptest.NewLogger(t), options...)
	require.NoError(t, err)
	return r
}

func f16Options() bench.Options {
	opts := bench.DefaultOptions()
	opts.Precisions = []gpu.ElementType{gpu.F16}
	return opts
}

func TestRunner_Scenario_FixedGemmDuration(t *testing.T) {
	drv := gputest.NewFakeDriver()
	drv.GemmDuration = time.Millisecond

	rep, err := fakeRunner(t, drv, []bench.Shape{{M: 1024, N: 1024, K: 1024}}, f16Options()).Run(context.Background())
	require.NoError(t, err)

	results := rep.Results()
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, 10, res.Iterations)
	assert.InDelta(t, 10.0, res.ElapsedMillis, 1e-9)
	assert.InDelta(t, 1.0, res.AvgMillis, 1e-9)
	assert.InDelta(t, 2.147483648, res.TOPS, 1e-9)

	// 3 warmup + 10 timed calls, one barrier after each phase
	assert.Equal(t, 13, drv.Gemms)
	assert.Equal(t, 2, drv.Syncs)
	assert.Equal(t, 2, drv.Uploads, "C is not uploaded")
	assert.Equal(t, drv.Allocs, drv.Frees)
	assert.Equal(t, 1, drv.HandlesDestroyed)
	assert.Equal(t, "Fake GPU", rep.Device.Name)
	assert.Equal(t, "fake", rep.Driver)
}

func TestRunner_BarrierPlacement(t *testing.T) {
	drv := gputest.NewFakeDriver()
	opts := f16Options()
	opts.Warmup, opts.Iterations = 2, 3

	_, err := fakeRunner(t, drv, []bench.Shape{{M: 8, N: 8, K: 8}}, opts).Run(context.Background())
	require.NoError(t, err)

	var seq []string
	for _, c := range drv.Calls {
		if c == "GemmEx" || c == "DeviceSynchronize" {
			seq = append(seq, c)
		}
	}
	assert.Equal(t, []string{
		"GemmEx", "GemmEx", "DeviceSynchronize",
		"GemmEx", "GemmEx", "GemmEx", "DeviceSynchronize",
	}, seq)

	call := drv.GemmCalls[0]
	assert.Equal(t, float32(1), call.Alpha)
	assert.Equal(t, float32(0), call.Beta)
	assert.Equal(t, gpu.ComputeF32, call.ComputeType)
	assert.Equal(t, gpu.AlgorithmDefault, call.Algorithm)
	assert.Zero(t, call.SolutionIndex)
	assert.Zero(t, call.Flags)
}

func TestRunner_Scenario_OutOfMemoryContinues(t *testing.T) {
	drv := gputest.NewFakeDriver()
	drv.MemoryLimit = 300 << 20
	obs := &recorder{}

	shapes := []bench.Shape{{M: 8192, N: 8192, K: 8192}, {M: 1024, N: 1024, K: 1024}}
	rep, err := fakeRunner(t, drv, shapes, bench.DefaultOptions(), bench.WithObserver(obs)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(134_217_728), drv.MallocRequests[0])
	require.Len(t, rep.Outcomes, 2)

	failures := rep.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, shapes[0], failures[0].Shape)
	assert.Equal(t, gpu.BF16, failures[0].DType)
	assert.Equal(t, gpu.KindOutOfDeviceMemory, failures[0].Kind)
	assert.ErrorIs(t, failures[0].Err, gpu.ErrOutOfDeviceMemory)

	results := rep.Results()
	require.Len(t, results, 1)
	assert.Equal(t, shapes[1], results[0].Shape)

	// two buffers of the failed shape plus three of the next one
	assert.Equal(t, 5, drv.Allocs)
	assert.Equal(t, 5, drv.Frees)
	assert.Zero(t, drv.Resident())

	assert.Len(t, obs.failures, 1)
	assert.Len(t, obs.results, 1)
	assert.Equal(t, "fake", obs.driver)
	assert.Zero(t, obs.resident[len(obs.resident)-1])
}

func TestRunner_Scenario_NoDevices(t *testing.T) {
	drv := gputest.NewFakeDriver()
	drv.DeviceCount = 0

	rep, err := fakeRunner(t, drv, bench.DefaultShapes(), bench.DefaultOptions()).Run(context.Background())
	require.ErrorIs(t, err, gpu.ErrRuntimeUnavailable)
	assert.Empty(t, rep.Outcomes)
	assert.Empty(t, drv.MallocRequests)
	assert.Zero(t, drv.CallCount("Free"))
	assert.Zero(t, drv.CallCount("CreateHandle"))
}

func TestRunner_SetupFailures(t *testing.T) {
	t.Run("device query", func(t *testing.T) {
		drv := gputest.NewFakeDriver()
		drv.PropertiesStatus = gputest.StatusInvalidValue
		_, err := fakeRunner(t, drv, bench.DefaultShapes(), bench.DefaultOptions()).Run(context.Background())
		assert.ErrorIs(t, err, gpu.ErrDeviceQueryFailed)
		assert.Empty(t, drv.MallocRequests)
	})

	t.Run("handle creation", func(t *testing.T) {
		drv := gputest.NewFakeDriver()
		drv.CreateHandleStatus = gputest.StatusNotInitialized
		_, err := fakeRunner(t, drv, bench.DefaultShapes(), bench.DefaultOptions()).Run(context.Background())
		assert.ErrorIs(t, err, gpu.ErrHandleCreationFailed)
		assert.Empty(t, drv.MallocRequests)
		assert.Zero(t, drv.CallCount("DestroyHandle"))
	})
}

func TestRunner_PerShapeFailures(t *testing.T) {
	shapes := []bench.Shape{{M: 16, N: 16, K: 16}, {M: 32, N: 32, K: 32}}

	t.Run("transfer", func(t *testing.T) {
		drv := gputest.NewFakeDriver()
		drv.UploadStatus = gputest.StatusInvalidValue
		rep, err := fakeRunner(t, drv, shapes, f16Options()).Run(context.Background())
		require.NoError(t, err)

		failures := rep.Failures()
		require.Len(t, failures, 2)
		assert.Equal(t, gpu.KindTransferFailed, failures[0].Kind)
		assert.Equal(t, 6, drv.Allocs)
		assert.Equal(t, 6, drv.Frees)
		assert.Zero(t, drv.Gemms)
		assert.Equal(t, 1, drv.HandlesDestroyed)
	})

	t.Run("gemm during timed run", func(t *testing.T) {
		drv := gputest.NewFakeDriver()
		drv.GemmStatus = gputest.StatusExecutionFailed
		drv.FailGemmAfter = 5
		rep, err := fakeRunner(t, drv, shapes, f16Options()).Run(context.Background())
		require.NoError(t, err)

		failures := rep.Failures()
		require.Len(t, failures, 2)
		assert.Equal(t, gpu.KindGemmCallFailed, failures[0].Kind)
		assert.Contains(t, failures[0].Message, "timed call 3")
		assert.Equal(t, drv.Allocs, drv.Frees)
		// no retries: each failed shape stops at its first failing call
		assert.Equal(t, 7, drv.Gemms)
	})

	t.Run("barrier", func(t *testing.T) {
		drv := gputest.NewFakeDriver()
		drv.SyncStatus = gputest.StatusExecutionFailed
		rep, err := fakeRunner(t, drv, shapes[:1], f16Options()).Run(context.Background())
		require.NoError(t, err)
		require.Len(t, rep.Failures(), 1)
		assert.Equal(t, gpu.KindGemmCallFailed, rep.Failures()[0].Kind)
		assert.Equal(t, 3, drv.Allocs)
		assert.Equal(t, 3, drv.Frees)
	})
}

func TestRunner_OrderAndPrecisions(t *testing.T) {
	drv := gputest.NewFakeDriver()
	drv.GemmDuration = time.Millisecond
	opts := bench.DefaultOptions()
	opts.Precisions = []gpu.ElementType{gpu.F16, gpu.BF16}
	shapes := []bench.Shape{{M: 64, N: 64, K: 64}, {M: 256, N: 256, K: 256}, {M: 128, N: 128, K: 128}}

	rep, err := fakeRunner(t, drv, shapes, opts).Run(context.Background())
	require.NoError(t, err)

	results := rep.Results()
	require.Len(t, results, 6)
	for i, res := range results {
		assert.Equal(t, shapes[i%3], res.Shape)
		want := gpu.F16
		if i >= 3 {
			want = gpu.BF16
		}
		assert.Equal(t, want, res.DType)
	}

	top := rep.TopN(2)
	assert.Equal(t, shapes[1], top[0].Shape)
	assert.Equal(t, gpu.F16, top[0].DType, "ties keep sweep order")
	assert.Equal(t, gpu.BF16, top[1].DType)
	assert.Equal(t, shapes[0], rep.Results()[0].Shape)
}

func TestRunner_RowMajorLayout(t *testing.T) {
	drv := gputest.NewFakeDriver()
	opts := f16Options()
	opts.Layout = gpu.LayoutRowMajor

	_, err := fakeRunner(t, drv, []bench.Shape{{M: 64, N: 32, K: 16}}, opts).Run(context.Background())
	require.NoError(t, err)

	call := drv.GemmCalls[0]
	assert.Equal(t, []int{32, 64, 16}, []int{call.M, call.N, call.K})
	assert.Equal(t, []int{32, 16, 32}, []int{call.LDA, call.LDB, call.LDC})
}

func TestRunner_Cancellation(t *testing.T) {
	drv := gputest.NewFakeDriver()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	drv.GemmHook = func(gpu.GemmCall) gpu.Status {
		cancel()
		return gpu.StatusSuccess
	}

	rep, err := fakeRunner(t, drv, bench.DefaultShapes()[:3], f16Options()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// the shape in flight completes, the rest are not attempted
	assert.Len(t, rep.Results(), 1)
	assert.Equal(t, 3, drv.Allocs)
	assert.Equal(t, 3, drv.Frees)
	assert.Equal(t, 1, drv.HandlesDestroyed)
}

func TestRunner_Watchdog(t *testing.T) {
	drv := gputest.NewFakeDriver()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	drv.GemmHook = func(gpu.GemmCall) gpu.Status {
		<-release
		return gpu.StatusSuccess
	}
	opts := f16Options()
	opts.Watchdog = 20 * time.Millisecond

	rep, err := fakeRunner(t, drv, []bench.Shape{{M: 8, N: 8, K: 8}, {M: 16, N: 16, K: 16}}, opts).Run(context.Background())
	require.ErrorIs(t, err, bench.ErrWatchdogExpired)
	assert.Empty(t, rep.Outcomes)
	assert.Equal(t, 1, drv.LiveHandles(), "stalled handle is not destroyed")
}

func TestNewRunner_Validation(t *testing.T) {
	dev := gpu.NewDevice(gputest.NewFakeDriver(), nil)

	_, err := bench.NewRunner(dev, nil, bench.DefaultOptions(), nil)
	assert.ErrorIs(t, err, bench.ErrInvalidShape)

	_, err = bench.NewRunner(dev, []bench.Shape{{M: 1, N: 0, K: 1}}, bench.DefaultOptions(), nil)
	assert.ErrorIs(t, err, bench.ErrInvalidShape)

	opts := bench.DefaultOptions()
	opts.Iterations = 0
	_, err = bench.NewRunner(dev, bench.DefaultShapes(), opts, nil)
	assert.Error(t, err)
}
