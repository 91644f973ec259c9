// Package logging provides the loggers of the STM packages.
//
// Loggers implement dragonboat's logger.ILogger and are obtained through
// logger.GetLogger(pkgName). Init installs the zap backed factory and sets
// the level of every package logger.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dSTM/lib/config"
	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Packages lists the names of the package loggers configured by Init.
var Packages = []string{"stm", "executor", "pool", "lockmgr"}

// backend is the zap logger all package loggers write to
var backend atomic.Pointer[zap.Logger]

// factoryOnce installs CreateLogger as dragonboat's logger factory
var factoryOnce sync.Once

func init() {
	backend.Store(newBackend("console"))
}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// stmLogger implements the ILogger interface on top of zap
type stmLogger struct {
	name  string
	level atomic.Int32 // logger.LogLevel
	zap   *zap.Logger  // nil = shared backend
}

func (l *stmLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *stmLogger) enabled(level logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= level
}

func (l *stmLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.log(zapcore.DebugLevel, format, args...)
	}
}

func (l *stmLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.log(zapcore.InfoLevel, format, args...)
	}
}

func (l *stmLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.log(zapcore.WarnLevel, format, args...)
	}
}

func (l *stmLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.log(zapcore.ErrorLevel, format, args...)
	}
}

func (l *stmLogger) Panicf(format string, args ...interface{}) {
	if l.enabled(logger.CRITICAL) {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *stmLogger) log(level zapcore.Level, format string, args ...interface{}) {
	z := l.zap
	if z == nil {
		z = backend.Load()
	}
	z.Log(level, fmt.Sprintf(format, args...), zap.String("pkg", l.name))
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger implements dragonboats logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	l := &stmLogger{name: pkgName}
	l.SetLevel(logger.INFO)
	return l
}

// newBackend creates the zap logger for the given format ("console" or "json").
// The zap level is always debug, filtering happens in the package loggers.
func newBackend(format string) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(format) == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zapcore.DebugLevel)
	return zap.New(core)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseLogLevel converts a string level to logger.LogLevel
func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG
	case "info":
		return logger.INFO
	case "warning", "warn":
		return logger.WARNING
	case "error":
		return logger.ERROR
	default:
		panic(fmt.Sprintf("invalid log level: %s. must be one of debug, info, warn, error", level))
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// Init installs the logger factory and sets the level of all package loggers.
// It panics if the level is invalid. Calling it again changes the level and
// the format, the factory is installed once.
func Init(level, format string) {
	lvl := parseLogLevel(level)
	backend.Store(newBackend(format))

	// Set as the global logger factory for Dragonboat
	factoryOnce.Do(func() {
		logger.SetLoggerFactory(CreateLogger)
	})

	for _, pkg := range Packages {
		logger.GetLogger(pkg).SetLevel(lvl)
	}
}

// InitFromConfig initializes the loggers with the log level and format of conf.
func InitFromConfig(conf *config.StmConfig) {
	Init(conf.LogLevel, conf.LogFormat)
}
