// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package commons

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the application-wide logging interface. It mirrors zap's sugared
// logger so that call-sites can use printf-style (`...f`), key-value
// (`...w`), and plain forms interchangeably.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	Sync() error
}

type applicationLogger struct {
	*zap.SugaredLogger
}

// LoggerOption customises logger construction.
type LoggerOption func(*loggerOptions)

type loggerOptions struct {
	level    string
	filePath string
}

// WithLogLevel sets the minimum level (debug, info, warn, error).
func WithLogLevel(level string) LoggerOption {
	return func(o *loggerOptions) {
		o.level = level
	}
}

// WithLogFile enables file output with rotation in addition to stdout.
func WithLogFile(path string) LoggerOption {
	return func(o *loggerOptions) {
		o.filePath = path
	}
}

// NewApplicationLogger builds the process logger. Console encoding goes to
// stdout; when a file path is configured the same output is duplicated to a
// size-rotated file.
func NewApplicationLogger(opts ...LoggerOption) Logger {
	options := &loggerOptions{level: "debug"}
	for _, opt := range opts {
		opt(options)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	level := parseLevel(options.level)
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}
	if options.filePath != "" {
		rotated := &lumberjack.Logger{
			Filename:   options.filePath,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotated), level))
	}

	core := zapcore.NewTee(cores...)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &applicationLogger{logger.Sugar()}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
