package common

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/spf13/viper"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig mirrors the log: section of the server config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SetupLogger applies c via SetupLoggerWithFile.
func SetupLogger(c LogConfig) {
	SetupLoggerWithFile(c.Level, c.Format, c.File, c.MaxSize, c.MaxBackups, c.MaxAge, c.Compress)
}

// SetupLoggerWithFile configures both std log and slog default logger.
// format: console|json; level: debug|info|warn|error.
// If filePath != "", logs write to a rotating file.
func SetupLoggerWithFile(level, format, filePath string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) {
	var w io.Writer = os.Stderr
	if strings.TrimSpace(filePath) != "" {
		w = &lumberjack.Logger{Filename: filePath, MaxSize: maxSizeMB, MaxBackups: maxBackups, MaxAge: maxAgeDays, Compress: compress}
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.ToLower(format) == "json" {
		h = slog.NewJSONHandler(w, opts)
		log.SetFlags(0)
	} else {
		h = slog.NewTextHandler(w, opts)
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}
	slog.SetDefault(slog.New(&countHandler{next: h}))
	log.SetOutput(w)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

var cntDebug, cntInfo, cntWarn, cntError atomic.Int64

type countHandler struct{ next slog.Handler }

func (c *countHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return c.next.Enabled(ctx, lvl)
}

func (c *countHandler) Handle(ctx context.Context, rec slog.Record) error {
	switch {
	case rec.Level >= slog.LevelError:
		cntError.Add(1)
	case rec.Level >= slog.LevelWarn:
		cntWarn.Add(1)
	case rec.Level >= slog.LevelInfo:
		cntInfo.Add(1)
	default:
		cntDebug.Add(1)
	}
	return c.next.Handle(ctx, rec)
}

func (c *countHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &countHandler{next: c.next.WithAttrs(attrs)}
}

func (c *countHandler) WithGroup(name string) slog.Handler {
	return &countHandler{next: c.next.WithGroup(name)}
}

// GetLogCounters returns current log counters by level.
func GetLogCounters() map[string]int64 {
	d, i, w, e := cntDebug.Load(), cntInfo.Load(), cntWarn.Load(), cntError.Load()
	return map[string]int64{"debug": d, "info": i, "warn": w, "error": e, "total": d + i + w + e}
}

// MergeLogSection flattens a nested "log" section into top-level log.* keys.
func MergeLogSection(v *viper.Viper) {
	if sub := v.Sub("log"); sub != nil {
		for _, k := range []string{"level", "format", "file", "max_size", "max_backups", "max_age", "compress"} {
			if sub.IsSet(k) {
				v.Set("log."+k, sub.Get(k))
			}
		}
	}
}
