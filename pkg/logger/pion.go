package logger

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/pion/logging"
)

// PionLoggerFactory routes pion's scoped loggers (ice, dtls, pc, ...) into a
// logr.Logger. Pion info output is chatty so it lands on V(1).
type PionLoggerFactory struct {
	Logger logr.Logger
}

// NewPionLoggerFactory returns a logging.LoggerFactory writing to l.
func NewPionLoggerFactory(l logr.Logger) *PionLoggerFactory {
	return &PionLoggerFactory{Logger: l.WithName("pion")}
}

// NewLogger implements logging.LoggerFactory.
func (f *PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{l: f.Logger.WithName(scope)}
}

type pionLogger struct {
	l logr.Logger
}

func (p pionLogger) Trace(msg string) { p.l.V(2).Info(msg) }
func (p pionLogger) Tracef(format string, args ...interface{}) {
	p.l.V(2).Info(fmt.Sprintf(format, args...))
}
func (p pionLogger) Debug(msg string) { p.l.V(2).Info(msg) }
func (p pionLogger) Debugf(format string, args ...interface{}) {
	p.l.V(2).Info(fmt.Sprintf(format, args...))
}
func (p pionLogger) Info(msg string) { p.l.V(1).Info(msg) }
func (p pionLogger) Infof(format string, args ...interface{}) {
	p.l.V(1).Info(fmt.Sprintf(format, args...))
}
func (p pionLogger) Warn(msg string) { p.l.Info(msg, "severity", "warn") }
func (p pionLogger) Warnf(format string, args ...interface{}) {
	p.l.Info(fmt.Sprintf(format, args...), "severity", "warn")
}
func (p pionLogger) Error(msg string) { p.l.Error(errors.New(msg), "pion error") }
func (p pionLogger) Errorf(format string, args ...interface{}) {
	p.l.Error(fmt.Errorf(format, args...), "pion error")
}
