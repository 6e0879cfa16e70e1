// Package logger builds the station's structured logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON zap logger writing to stderr.
// Debug mode keeps JSON output but lowers the level to debug.
func New(debug bool) (*zap.Logger, error) {
	return build(debug, "stderr")
}

// NewWithOutput is New with explicit output paths (files or "stdout"/"stderr").
// The station daemon uses it when LOG_FILE is set.
func NewWithOutput(debug bool, paths ...string) (*zap.Logger, error) {
	if len(paths) == 0 {
		paths = []string{"stderr"}
	}
	return build(debug, paths...)
}

func build(debug bool, paths ...string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.OutputPaths = paths
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]interface{}{"app": "tiger-claw-station"}
	return cfg.Build()
}
