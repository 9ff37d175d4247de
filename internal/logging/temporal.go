package logging

import (
	"fmt"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// temporalLogger adapts Logger to the Temporal SDK log.Logger interface.
type temporalLogger struct {
	zap *zap.Logger
}

var (
	_ log.Logger     = (*temporalLogger)(nil)
	_ log.WithLogger = (*temporalLogger)(nil)
)

// Temporal returns a log.Logger for client.Options that writes through l.
func Temporal(l *Logger) log.Logger {
	return &temporalLogger{zap: l.zap.Named("temporal").WithOptions(zap.AddCallerSkip(1))}
}

func (t *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	t.zap.Debug(msg, keyvalFields(keyvals)...)
}

func (t *temporalLogger) Info(msg string, keyvals ...interface{}) {
	t.zap.Info(msg, keyvalFields(keyvals)...)
}

func (t *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	t.zap.Warn(msg, keyvalFields(keyvals)...)
}

func (t *temporalLogger) Error(msg string, keyvals ...interface{}) {
	t.zap.Error(msg, keyvalFields(keyvals)...)
}

func (t *temporalLogger) With(keyvals ...interface{}) log.Logger {
	return &temporalLogger{zap: t.zap.With(keyvalFields(keyvals)...)}
}

// keyvalFields converts alternating key/value pairs into zap fields.
// A trailing key without a value is kept under "extra".
func keyvalFields(keyvals []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 >= len(keyvals) {
			fields = append(fields, zap.Any("extra", keyvals[i]))
			break
		}
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	return fields
}
