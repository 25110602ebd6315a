package zerolog

import (
	"io"
	"os"
	"time"

	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/rs/zerolog"
)

// zerolog implementation of relay.Logger interface.
type Logger struct {
	Logger zerolog.Logger
}

var _ relay.Logger = (*Logger)(nil)

// New builds a logger writing to w at the given level. Console output is
// meant for humans, otherwise one JSON object is written per entry.
func New(w io.Writer, level string, console bool) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stderr
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return &Logger{
		Logger: zerolog.New(w).Level(lvl).With().Timestamp().Str("component", "txrelay").Logger(),
	}, nil
}

func (l *Logger) Debug(msg string) {
	l.Logger.Debug().Msg(msg)
}

func (l *Logger) Warn(msg string) {
	l.Logger.Warn().Msg(msg)
}

func (l *Logger) Error(msg string, err error) {
	l.Logger.Err(err).Msg(msg)
}

func (l *Logger) Info(msg string) {
	l.Logger.Info().Msg(msg)
}
