package treantai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

const loggerNameKey = "logger"

var (
	defaultLogWriter io.Writer = os.Stdout
)

var discordGoLogLevels = map[int]slog.Level{
	discordgo.LogDebug:         slog.LevelDebug,
	discordgo.LogError:         slog.LevelError,
	discordgo.LogWarning:       slog.LevelWarn,
	discordgo.LogInformational: slog.LevelInfo,
}

func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler)
	return func(
		msgL int,
		_ int,
		format string,
		args ...any,
	) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(
			ctx,
			level,
			strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""),
		)
	}
}

// discordgoLogLevel maps a slog level to the closest discordgo log level
func discordgoLogLevel(lvl slog.Level) (int, error) {
	switch lvl.Level() {
	case slog.LevelInfo:
		return discordgo.LogInformational, nil
	case slog.LevelWarn:
		return discordgo.LogWarning, nil
	case slog.LevelDebug:
		return discordgo.LogDebug, nil
	case slog.LevelError:
		return discordgo.LogError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", lvl)
	}
}

// logWriter returns the writer all handlers log to. When a log file
// is configured, output is written to both stdout and the rotated file.
func logWriter(config *Config) io.Writer {
	if config.LogFile == "" {
		return defaultLogWriter
	}
	return io.MultiWriter(
		defaultLogWriter,
		&lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    DefaultLogFileMaxSizeMB,
			MaxBackups: DefaultLogFileMaxBackups,
			MaxAge:     DefaultLogFileMaxAgeDays,
			Compress:   true,
		},
	)
}

// leveler returns lvl, or the default log level if lvl is nil
func leveler(lvl *slog.LevelVar) slog.Leveler {
	if lvl == nil {
		return DefaultLogLevel
	}
	return lvl
}

func newLogHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return tint.NewHandler(
		w, &tint.Options{
			Level:     level,
			AddSource: true,
		},
	)
}

// newComponentLogger returns a logger for the named component, writing
// at the given level
func newComponentLogger(w io.Writer, level slog.Leveler, name string) *slog.Logger {
	return slog.New(newLogHandler(w, level)).With(loggerNameKey, name)
}
