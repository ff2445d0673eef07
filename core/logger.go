package core

import "github.com/sral/selfrefine/pkg/logger"

// Logger is the structured logging contract used throughout core and the
// service packages. It is an alias so callers can depend on core.Logger
// without importing pkg/logger directly.
type Logger = logger.Logger

// NewDefaultLogger returns the package's baseline logger implementation.
func NewDefaultLogger() Logger {
	return logger.NewDefaultLogger()
}

// ComponentAwareLogger is implemented by loggers that can tag themselves with
// a component name.
type ComponentAwareLogger interface {
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. It is the zero-value-safe default for
// components that did not wire a logger explicitly.
type NoOpLogger struct{}

func (NoOpLogger) Debug(msg string, fields ...interface{})       {}
func (NoOpLogger) Info(msg string, fields ...interface{})        {}
func (NoOpLogger) Warn(msg string, fields ...interface{})        {}
func (NoOpLogger) Error(msg string, fields ...interface{})       {}
func (NoOpLogger) SetLevel(level string)                         {}
func (n NoOpLogger) WithField(key string, value interface{}) Logger { return n }
func (n NoOpLogger) WithFields(fields map[string]interface{}) Logger { return n }
func (n NoOpLogger) With(fields ...logger.Field) Logger           { return n }
