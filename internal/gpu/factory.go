package gpu

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DriverConfig selects and configures the runtime driver.
type DriverConfig struct {
	// Name is one of "auto", "rocm", "cuda" or "host". Empty means "auto".
	Name string
	// Trace logs every driver call at debug level.
	Trace bool
	// VendorLogLevel is forwarded to the vendor runtime's own logging
	// (AMD_LOG_LEVEL for ROCm). Zero leaves the runtime quiet.
	VendorLogLevel int
	// HostMemoryBytes is the capacity of the host emulation driver.
	HostMemoryBytes uint64
}

// NewDriver creates the driver named by cfg. "auto" tries ROCm, then CUDA,
// and falls back to host emulation; a vendor driver is only chosen if it is
// compiled in and reports at least one device. Naming a vendor driver that
// was not compiled in fails with ErrRuntimeUnavailable.
func NewDriver(cfg DriverConfig, logger *zap.Logger) (Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var drv Driver
	switch strings.ToLower(cfg.Name) {
	case "", "auto":
		drv = detectDriver(cfg, logger)
	case "host":
		drv = NewHostDriver(cfg.HostMemoryBytes)
	case "rocm":
		if drv = tryCreateROCmDriver(cfg, logger); drv == nil {
			return nil, fmt.Errorf("%w: binary built without the rocm tag", ErrRuntimeUnavailable)
		}
	case "cuda":
		if drv = tryCreateCUDADriver(cfg, logger); drv == nil {
			return nil, fmt.Errorf("%w: binary built without the cuda tag", ErrRuntimeUnavailable)
		}
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Name)
	}

	logger.Info("Using GPU driver", zap.String("driver", drv.Name()))
	if cfg.Trace {
		drv = Traced(drv, logger)
	}
	return drv, nil
}

func detectDriver(cfg DriverConfig, logger *zap.Logger) Driver {
	for _, try := range []func(DriverConfig, *zap.Logger) Driver{tryCreateROCmDriver, tryCreateCUDADriver} {
		drv := try(cfg, logger)
		if drv == nil {
			continue
		}
		if n, st := drv.GetDeviceCount(); st.OK() && n > 0 {
			return drv
		}
		logger.Debug("Driver compiled in but no device visible", zap.String("driver", drv.Name()))
		_ = drv.Close()
	}
	logger.Info("No GPU runtime available, falling back to host emulation")
	return NewHostDriver(cfg.HostMemoryBytes)
}
