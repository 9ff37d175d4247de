// internal/logging/levels.go
package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel is a custom level below Debug for ultra-verbose logging.
// Value: -2 (Debug is -1, Info is 0)
//
// The engine logs every activation job and matched command at this level.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a string into a zapcore.Level, supporting "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// ParseFilter extracts a level from a log filter.
//
// Accepted forms are a bare level ("debug") or a comma-separated list of
// "target=LEVEL" directives ("temporal_sdk_core=INFO,wfharness=debug"). The most
// verbose level in the list wins. An empty filter means info.
func ParseFilter(filter string) (zapcore.Level, error) {
	if strings.TrimSpace(filter) == "" {
		return zapcore.InfoLevel, nil
	}

	result := zapcore.FatalLevel
	for _, directive := range strings.Split(filter, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "" {
			continue
		}
		if _, lvl, ok := strings.Cut(directive, "="); ok {
			directive = lvl
		}
		l, err := LevelFromString(directive)
		if err != nil {
			return zapcore.InfoLevel, err
		}
		if l < result {
			result = l
		}
	}
	return result, nil
}
