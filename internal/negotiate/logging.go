package negotiate

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// pionLogBridge forwards pion's internal logs into slog so the whole
// process shares one logging pipeline.
type pionLogBridge struct {
	log *slog.Logger
}

func newPionLogBridge(log *slog.Logger) logging.LoggerFactory {
	return &pionLogBridge{log: log}
}

func (b *pionLogBridge) NewLogger(scope string) logging.LeveledLogger {
	return &pionLeveledLogger{log: b.log.With("scope", scope)}
}

type pionLeveledLogger struct {
	log *slog.Logger
}

func (l *pionLeveledLogger) Trace(msg string) { l.log.Debug(msg) }
func (l *pionLeveledLogger) Tracef(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
func (l *pionLeveledLogger) Debug(msg string) { l.log.Debug(msg) }
func (l *pionLeveledLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
func (l *pionLeveledLogger) Info(msg string) { l.log.Info(msg) }
func (l *pionLeveledLogger) Infof(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...))
}
func (l *pionLeveledLogger) Warn(msg string) { l.log.Warn(msg) }
func (l *pionLeveledLogger) Warnf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}
func (l *pionLeveledLogger) Error(msg string) { l.log.Error(msg) }
func (l *pionLeveledLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}
