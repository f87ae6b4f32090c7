//go:build !cuda
// +build !cuda

package gpu

import "go.uber.org/zap"

// tryCreateCUDADriver returns nil when built without CUDA support
func tryCreateCUDADriver(DriverConfig, *zap.Logger) Driver {
	return nil
}
