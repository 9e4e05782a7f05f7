// Package ambient wires the logging conventions shared by the daemon and the
// CLI: a JSON slog handler writing to a rotated log file, the way
// cmd/sand's initSlog wired a single log file per process.
package ambient

import (
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls where and how verbosely the process logs.
type LogConfig struct {
	FilePath string
	Level    string
	// MaxSizeMB rotates the log file once it exceeds this size. The teacher's
	// CLI truncated a single file on each run, which is fine for a short-lived
	// invocation but would grow without bound for a long-running daemon.
	MaxSizeMB int
	MaxBackups int
}

// DefaultDaemonLogConfig returns rotation settings sized for a long-running daemon.
func DefaultDaemonLogConfig(filePath string) LogConfig {
	return LogConfig{
		FilePath:   filePath,
		Level:      "info",
		MaxSizeMB:  50,
		MaxBackups: 5,
	}
}

func levelFromString(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitSlog installs a process-wide JSON slog logger per cfg and returns the
// underlying writer so callers can Close/Sync it on shutdown.
func InitSlog(cfg LogConfig) (*lumberjack.Logger, error) {
	if cfg.FilePath == "" {
		f, err := os.CreateTemp("", "wharf-log")
		if err != nil {
			return nil, err
		}
		cfg.FilePath = f.Name()
		f.Close()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, err
	}

	writer := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}

	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: levelFromString(cfg.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("slog initialized", "file", cfg.FilePath, "level", cfg.Level)

	return writer, nil
}
