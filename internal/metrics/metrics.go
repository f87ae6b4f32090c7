package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fxnlabs/gemmbench/internal/bench"
	"github.com/fxnlabs/gemmbench/internal/gpu"
)

var shapeLabels = []string{"m", "n", "k", "dtype"}

// Metrics are the collectors of one benchmark run. They implement
// bench.Observer.
type Metrics struct {
	registry *prometheus.Registry

	ShapeTOPS      *prometheus.GaugeVec
	ShapeElapsedMs *prometheus.GaugeVec
	// Average duration of one GEMM call per shape, in milliseconds
	GemmAvgDuration   *prometheus.HistogramVec
	ShapeFailures     *prometheus.CounterVec
	DeviceMemoryBytes *prometheus.GaugeVec
	ResidentBytes     prometheus.Gauge
}

var _ bench.Observer = (*Metrics)(nil)

// New registers the run collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ShapeTOPS: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gemmbench_shape_tops",
			Help: "Achieved GEMM throughput of a shape in tera-operations per second",
		}, shapeLabels),
		ShapeElapsedMs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gemmbench_shape_elapsed_ms",
			Help: "Wall time of all timed GEMM calls of a shape in milliseconds",
		}, shapeLabels),
		GemmAvgDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gemmbench_gemm_avg_duration_ms",
			Help:    "Average duration of one GEMM call in milliseconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 20), // 10µs to ~5s
		}, []string{"dtype"}),
		ShapeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gemmbench_shape_failures_total",
			Help: "The total number of shapes that failed, by failure kind",
		}, []string{"kind"}),
		DeviceMemoryBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gemmbench_device_memory_bytes",
			Help: "Total memory of the benchmarked device in bytes",
		}, []string{"driver", "device", "compute_capability"}),
		ResidentBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gemmbench_resident_bytes",
			Help: "Device memory currently allocated by the benchmark in bytes",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveDevice(driver string, props gpu.DeviceProperties) {
	m.DeviceMemoryBytes.WithLabelValues(driver, props.Name, props.ComputeCapability()).Set(float64(props.TotalMemoryBytes))
}

func (m *Metrics) ObserveResult(res bench.Result) {
	labels := shapeLabelValues(res.Shape, res.DType)
	m.ShapeTOPS.WithLabelValues(labels...).Set(res.TOPS)
	m.ShapeElapsedMs.WithLabelValues(labels...).Set(res.ElapsedMillis)
	m.GemmAvgDuration.WithLabelValues(res.DType.String()).Observe(res.AvgMillis)
}

func (m *Metrics) ObserveFailure(f bench.Failure) {
	m.ShapeFailures.WithLabelValues(f.Kind.String()).Inc()
}

func (m *Metrics) ObserveResident(bytes uint64) {
	m.ResidentBytes.Set(float64(bytes))
}

// WriteTextfile writes the registry in the text exposition format, for the
// node exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func shapeLabelValues(s bench.Shape, dtype gpu.ElementType) []string {
	return []string{
		strconv.FormatUint(uint64(s.M), 10),
		strconv.FormatUint(uint64(s.N), 10),
		strconv.FormatUint(uint64(s.K), 10),
		dtype.String(),
	}
}
