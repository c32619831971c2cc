package main

import (
	"os"
	"strings"

	"github.com/pion/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds a zap.Logger writing to stderr or the configured file.
// Stdout is left alone because dial uses it for channel data.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	name := strings.ToLower(c.Level)
	if name == "warning" {
		name = "warn"
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var ws zapcore.WriteSyncer
	switch {
	case c.File == "":
		ws = zapcore.Lock(os.Stderr)
	case c.Rotation.Enable:
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.Rotation.MaxSizeMB,
			MaxBackups: c.Rotation.MaxBackups,
			MaxAge:     c.Rotation.MaxAgeDays,
			Compress:   c.Rotation.Compress,
		})
	default:
		f, err := os.OpenFile(c.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		ws = zapcore.AddSync(f)
	}

	return zap.New(zapcore.NewCore(encoder, ws, level), zap.AddCaller()), nil
}

// loggerFactory routes pion style leveled loggers into zap, one named
// logger per scope.
type loggerFactory struct {
	log *zap.Logger
}

var _ logging.LoggerFactory = loggerFactory{}

func (f loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{f.log.Named(scope).WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// leveledLogger maps Trace onto zap's Debug level.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l *leveledLogger) Trace(msg string)                  { l.s.Debug(msg) }
func (l *leveledLogger) Tracef(format string, args ...any) { l.s.Debugf(format, args...) }
func (l *leveledLogger) Debug(msg string)                  { l.s.Debug(msg) }
func (l *leveledLogger) Debugf(format string, args ...any) { l.s.Debugf(format, args...) }
func (l *leveledLogger) Info(msg string)                   { l.s.Info(msg) }
func (l *leveledLogger) Infof(format string, args ...any)  { l.s.Infof(format, args...) }
func (l *leveledLogger) Warn(msg string)                   { l.s.Warn(msg) }
func (l *leveledLogger) Warnf(format string, args ...any)  { l.s.Warnf(format, args...) }
func (l *leveledLogger) Error(msg string)                  { l.s.Error(msg) }
func (l *leveledLogger) Errorf(format string, args ...any) { l.s.Errorf(format, args...) }
