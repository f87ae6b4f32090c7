package gpu

import (
	"os"

	"go.uber.org/zap"
)

// setVendorEnv exports key to the vendor runtime, which reads it once when it
// initializes. A failure is logged and the driver carries on without it.
func setVendorEnv(key, value string, setenv func(key, value string) error, logger *zap.Logger) {
	if setenv == nil {
		setenv = os.Setenv
	}
	if err := setenv(key, value); err != nil {
		logger.Warn("Could not set vendor runtime environment",
			zap.String("key", key),
			zap.String("value", value),
			zap.Error(err))
		return
	}
	logger.Debug("Set vendor runtime environment", zap.String("key", key), zap.String("value", value))
}
