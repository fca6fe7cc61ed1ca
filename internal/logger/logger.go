// Package logger provides keva's global structured logger, a thin wrapper
// around zap with optional size-based file rotation.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the global logger. It is a no-op until Init is called, so
// packages may log unconditionally.
var Logger = zap.NewNop()

// SugarLogger is the sugared form of Logger.
var SugarLogger = Logger.Sugar()

// Config controls log level and optional file rotation.
type Config struct {
	Level      string `koanf:"level"`
	File       string `koanf:"file"`
	MaxSize    int    `koanf:"max_size"` // megabytes
	MaxAge     int    `koanf:"max_age"`  // days
	MaxBackups int    `koanf:"max_backups"`
	Compress   bool   `koanf:"compress"`
}

// DefaultConfig returns the default logging configuration: info level,
// stdout only.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSize:    100,
		MaxAge:     30,
		MaxBackups: 7,
	}
}

// Init builds the global logger from cfg. Logs always go to stdout; when
// cfg.File is set they are duplicated to a size-rotated file.
func Init(cfg Config) {
	core := zapcore.NewCore(getEncoder(), getLogWriter(cfg), getLevel(cfg.Level))
	Logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	SugarLogger = Logger.Sugar()
}

func getEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeDuration = zapcore.SecondsDurationEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func getLogWriter(cfg Config) zapcore.WriteSyncer {
	if cfg.File == "" {
		return zapcore.AddSync(os.Stdout)
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	return zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), zapcore.AddSync(rotator))
}

func getLevel(level string) zapcore.Level {
	l := new(zapcore.Level)
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return *l
}

// Debug logs a message at debug level using the global logger.
func Debug(msg string, fields ...zap.Field) {
	Logger.Debug(msg, fields...)
}

// Info logs a message at info level using the global logger.
func Info(msg string, fields ...zap.Field) {
	Logger.Info(msg, fields...)
}

// Warn logs a message at warn level using the global logger.
func Warn(msg string, fields ...zap.Field) {
	Logger.Warn(msg, fields...)
}

// Error logs a message at error level using the global logger.
func Error(msg string, fields ...zap.Field) {
	Logger.Error(msg, fields...)
}

// With creates a child logger with the given fields attached.
func With(fields ...zap.Field) *zap.Logger {
	return Logger.With(fields...)
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = Logger.Sync()
}
