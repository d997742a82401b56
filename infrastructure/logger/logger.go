package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/lumberjack.v3"
)

type Config struct {
	Level      string `yaml:"level"`
	Console    bool   `yaml:"console"`
	Filename   string `yaml:"filename"`
	MaxSize    int    `yaml:"maxSize"` // megabytes
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"` // days
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Console:    true,
		MaxSize:    5,
		MaxBackups: 10,
		MaxAge:     14,
	}
}

// New builds a logger writing colored console output to stdout and, when a
// file name is set, JSON lines to a rotated log file.
func New(config Config) (*zap.Logger, error) {
	level := zap.InfoLevel
	if config.Level != "" {
		parsed, err := zapcore.ParseLevel(config.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}
	if levelEnv := os.Getenv("LOG_LEVEL"); levelEnv != "" {
		if parsed, err := zapcore.ParseLevel(levelEnv); err == nil {
			level = parsed
		}
	}
	logLevel := zap.NewAtomicLevelAt(level)

	productionCfg := zap.NewProductionEncoderConfig()
	productionCfg.TimeKey = "timestamp"
	productionCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	developmentCfg := zap.NewDevelopmentEncoderConfig()
	developmentCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	var cores []zapcore.Core
	if config.Console {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(developmentCfg), zapcore.AddSync(os.Stdout), logLevel))
	}

	if config.Filename != "" {
		fileHandler, err := lumberjack.New(
			lumberjack.WithFileName(config.Filename),
			lumberjack.WithMaxBytes(int64(config.MaxSize*1024*1024)),
			lumberjack.WithMaxBackups(config.MaxBackups),
			lumberjack.WithMaxDays(config.MaxAge),
			lumberjack.WithCompress(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create file handler: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(productionCfg), zapcore.AddSync(fileHandler), logLevel))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}
