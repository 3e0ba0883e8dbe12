package hub

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// LogLevel controls diagnostic output of every hub session in the process.
type LogLevel int32

const (
	LogOff LogLevel = iota
	LogError
	LogInfo
	LogVerbose
)

var logLevel atomic.Int32 // LogOff

func SetLogLevel(level LogLevel) {
	logLevel.Store(int32(level))
}

func CurrentLogLevel() LogLevel {
	return LogLevel(logLevel.Load())
}

func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "none":
		return LogOff, nil
	case "error":
		return LogError, nil
	case "info":
		return LogInfo, nil
	case "verbose", "debug":
		return LogVerbose, nil
	}
	return LogOff, fmt.Errorf("unknown hub log level %q", s)
}

func (l LogLevel) String() string {
	switch l {
	case LogOff:
		return "off"
	case LogError:
		return "error"
	case LogInfo:
		return "info"
	case LogVerbose:
		return "verbose"
	}
	return "unknown"
}

func (l LogLevel) zerologLevel() zerolog.Level {
	switch l {
	case LogError:
		return zerolog.ErrorLevel
	case LogInfo:
		return zerolog.InfoLevel
	case LogVerbose:
		return zerolog.DebugLevel
	}
	return zerolog.Disabled
}

// diag emits through base at the current process-wide hub log level.
type diag struct {
	base zerolog.Logger
}

func (d diag) log() *zerolog.Logger {
	l := d.base.Level(CurrentLogLevel().zerologLevel())
	return &l
}
