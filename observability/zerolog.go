package observability

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig selects the zerolog backend settings.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Output io.Writer
}

type zerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger builds a Logger on top of zerolog. An empty Level means warn,
// an empty Format means console, a nil Output means stderr.
func NewZerologLogger(cfg LogConfig) (Logger, error) {
	level := zerolog.WarnLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	switch cfg.Format {
	case "", "console":
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	case "json":
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zl := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return zerologLogger{zl: zl}, nil
}

func (l zerologLogger) Debug(msg string, fields ...Field) { withFields(l.zl.Debug(), fields).Msg(msg) }
func (l zerologLogger) Info(msg string, fields ...Field)  { withFields(l.zl.Info(), fields).Msg(msg) }
func (l zerologLogger) Warn(msg string, fields ...Field)  { withFields(l.zl.Warn(), fields).Msg(msg) }
func (l zerologLogger) Error(msg string, fields ...Field) { withFields(l.zl.Error(), fields).Msg(msg) }

func (l zerologLogger) With(fields ...Field) Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		switch v := f.Value().(type) {
		case string:
			ctx = ctx.Str(f.Key(), v)
		case int:
			ctx = ctx.Int(f.Key(), v)
		case int64:
			ctx = ctx.Int64(f.Key(), v)
		case error:
			ctx = ctx.AnErr(f.Key(), v)
		case time.Duration:
			ctx = ctx.Dur(f.Key(), v)
		default:
			ctx = ctx.Interface(f.Key(), v)
		}
	}
	return zerologLogger{zl: ctx.Logger()}
}

func withFields(e *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		switch v := f.Value().(type) {
		case string:
			e = e.Str(f.Key(), v)
		case int:
			e = e.Int(f.Key(), v)
		case int64:
			e = e.Int64(f.Key(), v)
		case error:
			e = e.AnErr(f.Key(), v)
		case time.Duration:
			e = e.Dur(f.Key(), v)
		default:
			e = e.Interface(f.Key(), v)
		}
	}
	return e
}
