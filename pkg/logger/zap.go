package logger

import (
	"go.uber.org/zap"
)

var zapLogger *zap.Logger

// ReplaceLogger replaces the global logger with a zap logger
func ReplaceLogger(logger *zap.Logger) {
	zapLogger = logger
	globalLogger = &zapLoggerImpl{sugar: logger.Sugar()}
}

// GetLogger returns the zap logger
func GetLogger() *zap.Logger {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	return zapLogger
}

// Named returns a child of the global zap logger for a component
func Named(name string) *zap.Logger {
	return GetLogger().Named(name)
}

type zapLoggerImpl struct {
	sugar *zap.SugaredLogger
}

func (l *zapLoggerImpl) Debugf(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

func (l *zapLoggerImpl) Infof(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

func (l *zapLoggerImpl) Warnf(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

func (l *zapLoggerImpl) Errorf(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

func (l *zapLoggerImpl) Fatalf(format string, v ...interface{}) {
	l.sugar.Fatalf(format, v...)
}

func (l *zapLoggerImpl) Debugw(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *zapLoggerImpl) Infow(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *zapLoggerImpl) Warnw(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *zapLoggerImpl) Errorw(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}
