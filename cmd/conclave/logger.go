package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

// newLogger builds the process logger. format is "text" (colored console)
// or "json".
func newLogger(output io.Writer, format string, level slog.Level) (*slog.Logger, error) {
	switch format {
	case "", "text":
		handler := tint.NewHandler(output, &tint.Options{
			Level:      level,
			AddSource:  false,
			TimeFormat: "2006-01-02 15:04:05.000Z07:00",
			NoColor:    false,
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Value.Kind() == slog.KindAny {
					if _, ok := a.Value.Any().(error); ok {
						return tint.Attr(9, a)
					}
				}
				return a
			},
		})
		return slog.New(handler), nil
	case "json":
		return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
}
