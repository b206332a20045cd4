package green

import (
	"sync"

	"go.uber.org/zap"
)

var (
	loggerMu sync.Mutex
	logger   *zap.Logger
)

// Logger returns the runtime's logger, a no-op logger unless SetLogger was
// called first.
func Logger() *zap.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger
}

// SetLogger installs a logger for the runtime. Call before any scheduler or
// netpoller activity; once the no-op default is latched later calls are
// ignored.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = l
	}
}
