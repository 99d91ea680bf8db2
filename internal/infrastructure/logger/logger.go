// Package logger builds the process-wide zap logger. Level/encoder
// selection follows the teacher's NewLogger in
// internal/infrastructure/logger/logger.go; file-output rotation is new
// here (the teacher always logs to stdout/stderr and never rotates),
// grounded on the lumberjack usage in the pack's other CLI-proxy
// gateways (e.g. router-for-me/CLIProxyAPI's go.mod) — this gateway is
// meant to run long-lived as a headless service in front of a single
// persistent browser session, so an operator pointing OutputPath at a
// file needs rotation rather than an unbounded log file.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls level, encoding, output destination, and (for a
// file destination) rotation of the process-wide zap logger.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path

	// Rotation only applies when OutputPath names a file rather than
	// stdout/stderr. Zero or negative sizes and counts fall back to
	// RotationDefaults; Compress is used as given.
	MaxSizeMB  int  // max size in megabytes before a new file is started
	MaxBackups int  // max number of old rotated files to retain
	MaxAgeDays int  // max age in days to retain an old rotated file
	Compress   bool // gzip rotated files
}

// RotationDefaults supply MaxSizeMB, MaxBackups and MaxAgeDays when
// Config leaves them at zero but OutputPath names a file. Its Compress
// value is not applied.
var RotationDefaults = Config{
	MaxSizeMB:  100,
	MaxBackups: 5,
	MaxAgeDays: 28,
	Compress:   true,
}

// NewLogger builds a zap.Logger from Config.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, cfg.writeSyncer(), zap.NewAtomicLevelAt(level))
	opts := []zap.Option{zap.ErrorOutput(zapcore.AddSync(os.Stderr))}
	if cfg.Format == "console" {
		opts = append(opts, zap.Development())
	}
	return zap.New(core, opts...), nil
}

// writeSyncer resolves cfg.OutputPath to stdout/stderr, or to a
// lumberjack-backed rotating file writer for any other path.
func (cfg Config) writeSyncer() zapcore.WriteSyncer {
	switch cfg.OutputPath {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout)
	case "stderr":
		return zapcore.AddSync(os.Stderr)
	default:
		maxSize, maxBackups, maxAge := cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays
		if maxSize <= 0 {
			maxSize = RotationDefaults.MaxSizeMB
		}
		if maxBackups <= 0 {
			maxBackups = RotationDefaults.MaxBackups
		}
		if maxAge <= 0 {
			maxAge = RotationDefaults.MaxAgeDays
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.OutputPath,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   cfg.Compress,
		})
	}
}
