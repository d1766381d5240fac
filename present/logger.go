package present

import (
	"log/slog"
	"sync/atomic"

	"github.com/vkngwrapper/presentation/gpu"
)

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(gpu.NopLogger())
}

// SetLogger sets the logger used by render contexts that were not given one
// through WithLogger. By default nothing is logged. Pass nil to go quiet
// again.
//
// Levels:
//   - [slog.LevelDebug]: device candidates, swapchain recreation and its reason
//   - [slog.LevelInfo]: device selection, swapchain creation, connect and disconnect
//   - [slog.LevelWarn], [slog.LevelError]: validation layer messages
//
// SetLogger is safe for concurrent use.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = gpu.NopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the package logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
