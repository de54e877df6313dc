// Package logging builds the zap loggers used by deskd and deskhub.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelEnv overrides the minimum log level, e.g. DESK_LOG_LEVEL=debug.
const LevelEnv = "DESK_LOG_LEVEL"

// New returns the daemon logger: JSON lines appended to logPath plus a
// console copy on stderr. Every entry carries the profile and pid.
func New(logPath, profile string) (*zap.Logger, error) {
	level, err := levelFromEnv()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	enc := encoderConfig()
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(file), level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(os.Stderr), level),
	)
	return zap.New(core, zap.Fields(
		zap.String("profile", profile),
		zap.Int("pid", os.Getpid()),
	)), nil
}

// NewConsole returns a stderr-only logger for tools that have no profile
// directory, such as the development hub. An invalid $DESK_LOG_LEVEL falls
// back to info.
func NewConsole(component string) *zap.Logger {
	level, err := levelFromEnv()
	if err != nil {
		level = zapcore.InfoLevel
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(os.Stderr), level)
	return zap.New(core, zap.Fields(
		zap.String("component", component),
		zap.Int("pid", os.Getpid()),
	))
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func levelFromEnv() (zapcore.Level, error) {
	raw := strings.TrimSpace(os.Getenv(LevelEnv))
	if raw == "" {
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(raw)
	if err != nil {
		return level, fmt.Errorf("%s: %w", LevelEnv, err)
	}
	return level, nil
}
