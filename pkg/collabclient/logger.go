package collabclient

import "go.uber.org/zap"

// Logger has the same shape as the server's logger so one implementation can serve both.
type Logger interface {
	Debug(module, message string, details map[string]interface{})
	Info(module, message string, details map[string]interface{})
	Warn(module, message string, details map[string]interface{})
	Error(module, message string, details map[string]interface{})
}

type zapLogger struct {
	z *zap.Logger
}

// NewDevelopmentLogger logs human readable lines to stderr.
func NewDevelopmentLogger() Logger {
	z, err := zap.NewDevelopment()
	if err != nil {
		z = zap.NewNop()
	}
	return &zapLogger{z: z}
}

// NopLogger discards everything.
func NopLogger() Logger {
	return &zapLogger{z: zap.NewNop()}
}

func (l *zapLogger) with(module string, details map[string]interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(details)+1)
	fields = append(fields, zap.String("module", module))
	for k, v := range details {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

func (l *zapLogger) Debug(module, message string, details map[string]interface{}) {
	l.z.Debug(message, l.with(module, details)...)
}

func (l *zapLogger) Info(module, message string, details map[string]interface{}) {
	l.z.Info(message, l.with(module, details)...)
}

func (l *zapLogger) Warn(module, message string, details map[string]interface{}) {
	l.z.Warn(message, l.with(module, details)...)
}

func (l *zapLogger) Error(module, message string, details map[string]interface{}) {
	l.z.Error(message, l.with(module, details)...)
}
