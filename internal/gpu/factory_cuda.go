//go:build cuda
// +build cuda

package gpu

import "go.uber.org/zap"

func tryCreateCUDADriver(cfg DriverConfig, logger *zap.Logger) Driver {
	return NewCUDADriver(logger)
}
