package logger

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	debugMode bool
	level     zap.AtomicLevel
	logger    *zap.SugaredLogger
)

func init() {
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger = newLogger(false)
}

func newLogger(withCaller bool) *zap.SugaredLogger {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stdout), level)

	opts := []zap.Option{zap.AddCallerSkip(1)}
	if withCaller {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...).Sugar()
}

func SetDebugMode(debug bool) {
	debugMode = debug
	if debug {
		level.SetLevel(zapcore.DebugLevel)
		logger = newLogger(true)
		Info("Debug mode enabled - detailed logging activated")
	} else {
		level.SetLevel(zapcore.InfoLevel)
		logger = newLogger(false)
	}
}

func IsDebugMode() bool {
	return debugMode
}

// With returns a logger carrying the given key/value pairs on every entry.
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return logger.Desugar().WithOptions(zap.AddCallerSkip(-1)).Sugar().With(keysAndValues...)
}

func Sync() {
	_ = logger.Sync()
}

func Debug(format string, v ...interface{}) {
	logger.Debugf(format, v...)
}

func Info(format string, v ...interface{}) {
	logger.Infof(format, v...)
}

func Warn(format string, v ...interface{}) {
	logger.Warnf(format, v...)
}

func Error(format string, v ...interface{}) {
	logger.Errorf(format, v...)
}

func LogOperation(operation string, start time.Time, err error) {
	duration := time.Since(start)
	if err != nil {
		Error("Operation '%s' failed after %v: %v", operation, duration, err)
	} else {
		if debugMode {
			Debug("Operation '%s' completed in %v", operation, duration)
		} else {
			Info("Operation '%s' completed", operation)
		}
	}
}

func LogHTTPRequest(method, url string, statusCode int, duration time.Duration) {
	if debugMode {
		Debug("HTTP %s %s -> %d (%v)", method, url, statusCode, duration)
	} else {
		Info("HTTP %s %s -> %d", method, url, statusCode)
	}
}

func LogDockerOperation(operation, containerName string, err error) {
	if err != nil {
		Error("Docker %s failed for container '%s': %v", operation, containerName, err)
	} else {
		Info("Docker %s successful for container '%s'", operation, containerName)
	}
}
