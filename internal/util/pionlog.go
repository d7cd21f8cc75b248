package util

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

// PionLoggerFactory routes pion's scoped loggers into the pterm logger so the
// media engine shares the process log format and level.
type PionLoggerFactory struct{}

var _ logging.LoggerFactory = PionLoggerFactory{}

// NewLogger implements logging.LoggerFactory.
func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{scope: scope}
}

// pionLogger implements logging.LeveledLogger. pion's info output is demoted
// to debug: it is chatty and only useful when diagnosing ICE.
type pionLogger struct {
	scope string
}

func (l *pionLogger) line(msg string) string {
	return fmt.Sprintf("pion/%s: %s", l.scope, msg)
}

func (l *pionLogger) Trace(msg string) { pterm.DefaultLogger.Trace(l.line(msg)) }
func (l *pionLogger) Debug(msg string) { pterm.DefaultLogger.Trace(l.line(msg)) }
func (l *pionLogger) Info(msg string)  { pterm.DefaultLogger.Debug(l.line(msg)) }
func (l *pionLogger) Warn(msg string)  { pterm.DefaultLogger.Warn(l.line(msg)) }
func (l *pionLogger) Error(msg string) { pterm.DefaultLogger.Error(l.line(msg)) }

func (l *pionLogger) Tracef(format string, args ...interface{}) {
	l.Trace(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}
