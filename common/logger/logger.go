package logger

import (
	glog "github.com/Laisky/go-utils/v6/log"
)

// Logger is the process-wide structured logger. Request handlers should
// prefer the request-scoped logger from gmw.GetLogger.
var Logger glog.Logger = glog.Shared.Named("llm-gateway")

// SetupLogger switches the process logger to debug level when enabled.
func SetupLogger(debug bool) {
	level := glog.LevelInfo
	if debug {
		level = glog.LevelDebug
	}
	if logger, err := glog.NewConsoleWithName("llm-gateway", level); err == nil {
		Logger = logger
	}
}
