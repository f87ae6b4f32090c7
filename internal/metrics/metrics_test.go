package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxnlabs/gemmbench/internal/bench"
	"github.com/fxnlabs/gemmbench/internal/gpu"
)

func TestMetrics_Observer(t *testing.T) {
	m := New(nil)

	t.Run("device", func(t *testing.T) {
		m.ObserveDevice("rocm", gpu.DeviceProperties{Name: "MI300X", TotalMemoryBytes: 192 << 30, ComputeMajor: 9, ComputeMinor: 4})
		value := testutil.ToFloat64(m.DeviceMemoryBytes.WithLabelValues("rocm", "MI300X", "9.4"))
		assert.Equal(t, float64(192<<30), value)
	})

	t.Run("result", func(t *testing.T) {
		m.ObserveResult(bench.Result{
			Shape:         bench.Shape{M: 4096, N: 4096, K: 4096},
			DType:         gpu.BF16,
			Iterations:    10,
			ElapsedMillis: 12.5,
			AvgMillis:     1.25,
			TOPS:          109.95,
		})
		assert.Equal(t, 109.95, testutil.ToFloat64(m.ShapeTOPS.WithLabelValues("4096", "4096", "4096", "bf16")))
		assert.Equal(t, 12.5, testutil.ToFloat64(m.ShapeElapsedMs.WithLabelValues("4096", "4096", "4096", "bf16")))
		assert.Equal(t, 1, testutil.CollectAndCount(m.GemmAvgDuration, "gemmbench_gemm_avg_duration_ms"))
	})

	t.Run("failures by kind", func(t *testing.T) {
		m.ObserveFailure(bench.Failure{Kind: gpu.KindOutOfDeviceMemory})
		m.ObserveFailure(bench.Failure{Kind: gpu.KindOutOfDeviceMemory})
		m.ObserveFailure(bench.Failure{Kind: gpu.KindTransferFailed})

		assert.Equal(t, float64(2), testutil.ToFloat64(m.ShapeFailures.WithLabelValues("OutOfDeviceMemory")))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.ShapeFailures.WithLabelValues("TransferFailed")))
	})

	t.Run("resident", func(t *testing.T) {
		m.ObserveResident(3 << 20)
		assert.Equal(t, float64(3<<20), testutil.ToFloat64(m.ResidentBytes))
		m.ObserveResident(0)
		assert.Zero(t, testutil.ToFloat64(m.ResidentBytes))
	})
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// each run owns its registry, so two instances never collide
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New(nil)
	m.ObserveResult(bench.Result{Shape: bench.Shape{M: 1024, N: 1024, K: 1024}, DType: gpu.F16, TOPS: 2.5, AvgMillis: 0.86})

	path := filepath.Join(t.TempDir(), "gemmbench.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `gemmbench_shape_tops{dtype="f16",k="1024",m="1024",n="1024"} 2.5`)

	err = testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP gemmbench_resident_bytes Device memory currently allocated by the benchmark in bytes
# TYPE gemmbench_resident_bytes gauge
gemmbench_resident_bytes 0
`), "gemmbench_resident_bytes")
	assert.NoError(t, err)
}
