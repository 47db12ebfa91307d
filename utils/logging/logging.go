package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

type LogCode string

const (
	// SYSTEM EVENTS (SYSTEM*)
	SYSTEM LogCode = "SYSTEM"

	// DECLARATIVE STATE OPERATIONS
	SYNC    LogCode = "SYNC"
	EXPORT  LogCode = "EXPORT"
	MERGE   LogCode = "MERGE"
	COMPARE LogCode = "COMPARE"

	// STORE MUTATIONS OUTSIDE OF SYNC
	CASCADE LogCode = "CASCADE"
	RENAME  LogCode = "RENAME"

	// ANNOTATION WORKFLOW
	CONSENSUS LogCode = "CONSENSUS"
	REVIEW    LogCode = "REVIEW"
)

// VictoriaLogs has fixed field name for time (_time) and message(_msg). This function maps fields msg -> _msg and time -> _time.
func convertKeysToVictoriaLogs(keys []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{Key: "_time", Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05"))}
	}
	if a.Key == slog.MessageKey {
		return slog.Attr{Key: "_msg", Value: a.Value}
	}
	return a
}

func GetVictoriaLogsOptions(addSource bool) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: convertKeysToVictoriaLogs,
		AddSource:   addSource,
	}
}

func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return l, fmt.Errorf("invalid log level '%v': %w", level, err)
	}
	return l, nil
}

type Options struct {
	// Format of the console handler, "text" or "json".
	Format string
	Level  slog.Level
	// If set, json logs with victoria logs keys are also written here.
	File io.Writer
	// Attributes added to every record written to File.
	Attrs []slog.Attr
}

// Init builds the process logger and installs it as the slog default.
func Init(console io.Writer, opts Options) *slog.Logger {
	var consoleHandler slog.Handler
	if opts.Format == "json" {
		consoleHandler = slog.NewJSONHandler(console, &slog.HandlerOptions{Level: opts.Level})
	} else {
		consoleHandler = slog.NewTextHandler(console, &slog.HandlerOptions{Level: opts.Level})
	}

	handlers := []slog.Handler{consoleHandler}
	if opts.File != nil {
		var jsonHandler slog.Handler = slog.NewJSONHandler(opts.File, GetVictoriaLogsOptions(true))
		if len(opts.Attrs) > 0 {
			jsonHandler = jsonHandler.WithAttrs(opts.Attrs)
		}
		handlers = append(handlers, jsonHandler)
	}

	logger := slog.New(slogmulti.Fanout(handlers...))
	slog.SetDefault(logger)
	return logger
}
