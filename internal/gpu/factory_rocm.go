//go:build rocm
// +build rocm

package gpu

import "go.uber.org/zap"

func tryCreateROCmDriver(cfg DriverConfig, logger *zap.Logger) Driver {
	return NewHIPDriver(cfg.VendorLogLevel, logger)
}
