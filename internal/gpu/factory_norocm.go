//go:build !rocm
// +build !rocm

package gpu

import "go.uber.org/zap"

// tryCreateROCmDriver returns nil when built without ROCm support
func tryCreateROCmDriver(DriverConfig, *zap.Logger) Driver {
	return nil
}
