package gpu

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Device is the typed view of one runtime driver. It owns the device-side
// bookkeeping (resident bytes) and is the only place raw runtime statuses are
// turned into errors.
type Device struct {
	drv    Driver
	logger *zap.Logger

	mu       sync.Mutex
	resident uint64
}

// NewDevice wraps drv. A nil logger is replaced by a no-op logger.
func NewDevice(drv Driver, logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Device{
		drv:    drv,
		logger: logger.Named("gpu"),
	}
}

// Driver returns the wrapped driver.
func (d *Device) Driver() Driver {
	return d.drv
}

// DeviceCount returns the number of visible devices. It fails with
// ErrRuntimeUnavailable if the runtime cannot be reached or reports zero
// devices. There are no retries.
func (d *Device) DeviceCount() (int, error) {
	count, st := d.drv.GetDeviceCount()
	if !st.OK() {
		return 0, runtimeErr(d.drv, KindRuntimeUnavailable, "get device count", st)
	}
	if count <= 0 {
		return 0, fmt.Errorf("%w: %s runtime reports no devices", ErrRuntimeUnavailable, d.drv.Name())
	}
	d.logger.Debug("Runtime reachable", zap.String("driver", d.drv.Name()), zap.Int("devices", count))
	return count, nil
}

// QueryProperties returns the properties of the device at index.
func (d *Device) QueryProperties(index int) (DeviceProperties, error) {
	props, st := d.drv.GetDeviceProperties(index)
	if !st.OK() {
		return DeviceProperties{}, runtimeErr(d.drv, KindDeviceQueryFailed, fmt.Sprintf("get properties of device %d", index), st)
	}
	d.logger.Info("Device properties",
		zap.Int("index", index),
		zap.String("device", props.Name),
		zap.String("compute_capability", props.ComputeCapability()),
		zap.Float64("total_memory_gb", float64(props.TotalMemoryBytes)/(1<<30)))
	return props, nil
}

// Synchronize blocks until all enqueued device work has finished. Errors of
// asynchronously executed GEMM calls surface here, so a failed barrier is
// classified as a GEMM failure.
func (d *Device) Synchronize() error {
	if st := d.drv.DeviceSynchronize(); !st.OK() {
		return runtimeErr(d.drv, KindGemmCallFailed, "device synchronize", st)
	}
	return nil
}

// ResidentBytes returns the number of bytes currently allocated through d.
func (d *Device) ResidentBytes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resident
}

func (d *Device) addResident(delta uint64) {
	d.mu.Lock()
	d.resident += delta
	d.mu.Unlock()
}

func (d *Device) subResident(delta uint64) {
	d.mu.Lock()
	d.resident -= delta
	d.mu.Unlock()
}
