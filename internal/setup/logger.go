package setup

import (
	"log/slog"

	"github.com/cochaviz/ecu/internal/logging"
)

var packageLogger *slog.Logger

// SetLogger sets the logger used while resolving configuration. A nil logger
// restores the process default.
func SetLogger(logger *slog.Logger) {
	packageLogger = logger
}

func getLogger() *slog.Logger {
	return logging.Ensure(packageLogger)
}
