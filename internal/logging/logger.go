// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production. When file
// is non-empty, entries are also appended to that file.
func New(development bool, file string) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		addFile(&cfg, file)
		if file != "" {
			// Color codes would end up in the log file.
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	addFile(&cfg, file)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

func addFile(cfg *zap.Config, file string) {
	if file == "" {
		return
	}
	cfg.OutputPaths = append(cfg.OutputPaths, file)
	cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, file)
}
