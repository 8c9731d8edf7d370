// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

// Package observability builds the command line tool logger and metrics endpoint.
package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hrissan/cellhttp/config"
)

// ParseLevel accepts the same names as config validation, unknown names are info
func ParseLevel(name string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// SetupLogger builds logger from c, sets it as zap global logger and redirects
// stdlib log into it. Caller should defer Sync. Terminal outputs always get
// the colored console encoder.
func SetupLogger(c config.LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(c.Level))

	var cores []zapcore.Core
	for _, out := range c.Outputs {
		var ws zapcore.WriteSyncer
		dev := c.Development
		switch strings.ToLower(out) {
		case "stdout":
			ws = zapcore.Lock(os.Stdout)
			dev = dev || isTerminal(os.Stdout)
		case "stderr":
			ws = zapcore.Lock(os.Stderr)
			dev = dev || isTerminal(os.Stderr)
		default:
			w, err := fileSyncer(out, c)
			if err != nil {
				return nil, err
			}
			ws = w
		}
		cores = append(cores, zapcore.NewCore(newEncoder(c.Format, dev), ws, level))
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("no log outputs")
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	}
	if c.Development {
		opts = append(opts, zap.Development())
	}
	logger := zap.New(zapcore.NewTee(cores...), opts...)
	zap.ReplaceGlobals(logger)
	if _, err := zap.RedirectStdLogAt(logger, zap.InfoLevel); err != nil {
		return nil, err
	}
	return logger, nil
}

func newEncoder(format string, dev bool) zapcore.Encoder {
	if dev {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.ToLower(format) == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func fileSyncer(path string, c config.LogConfig) (zapcore.WriteSyncer, error) {
	if c.Rotation.Enable {
		filename := path
		if strings.TrimSpace(c.Rotation.Filename) != "" {
			filename = c.Rotation.Filename
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   filename,
			MaxSize:    max(c.Rotation.MaxSizeMB, 1),
			MaxBackups: max(c.Rotation.MaxBackups, 1),
			MaxAge:     max(c.Rotation.MaxAgeDays, 1),
			Compress:   c.Rotation.Compress,
		}), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("log output %q: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log output %q: %w", path, err)
	}
	return zapcore.Lock(f), nil
}
