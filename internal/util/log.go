// Package util provides process-wide logging and statistics helpers.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm's default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// EnableTrace configures the logger to show trace messages, including the
// media engine's own trace output.
func EnableTrace() {
	pterm.DefaultLogger.Level = pterm.LogLevelTrace
}

// ShortID returns the first 8 characters of id for log prefixes.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ConnLog prefixes every line with a connection's short ID, e.g.
// "[1a2b3c4d] offer sent".
type ConnLog struct {
	prefix string
}

// ConnLogger returns the logger for the connection or session id.
func ConnLogger(id string) ConnLog {
	return ConnLog{prefix: "[" + ShortID(id) + "] "}
}

func (l ConnLog) Debug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(l.prefix + fmt.Sprintf(format, args...))
}

func (l ConnLog) Info(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(l.prefix + fmt.Sprintf(format, args...))
}

func (l ConnLog) Success(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(l.prefix + fmt.Sprintf(format, args...))
}

func (l ConnLog) Warning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(l.prefix + fmt.Sprintf(format, args...))
}

func (l ConnLog) Error(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(l.prefix + fmt.Sprintf(format, args...))
}
