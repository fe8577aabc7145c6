package log

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config configures the process logger.
type Config struct {
	// LogDir enables a daily rotated log file next to the console output.
	LogDir   string
	LogLevel string
	KeepDays int
	// Console defaults to os.Stderr.
	Console io.Writer
}

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

// InitLogger init logger
func InitLogger(config *Config) error {
	console := config.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{newConsoleWriter(console)}

	if config.LogDir != "" {
		logDir, err := filepath.Abs(config.LogDir)
		if err != nil {
			return errors.Wrap(err, "log dir")
		}
		err = os.MkdirAll(logDir, 0775)
		if err != nil {
			return errors.Wrap(err, "create log dir")
		}
		writers = append(writers, NewRotateFileWriter(logDir, "halttrace.log", config.KeepDays))
	}

	tmpLogger := zerolog.New(zerolog.MultiLevelWriter(writers...))

	lev := strings.ToLower(config.LogLevel)
	l, err := zerolog.ParseLevel(lev)
	if err != nil || lev == "" {
		l = zerolog.InfoLevel
	}
	logger = tmpLogger.Level(l).With().Timestamp().Logger()
	return nil
}

func newConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	noColor := true
	if f, ok := out.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    noColor,
		TimeFormat: "15:04:05.000",
	}
}

// G returns the process logger.
func G() zerolog.Logger {
	return logger
}

func Fatal() *zerolog.Event {
	return logger.Fatal().Caller()
}

func Error() *zerolog.Event {
	return logger.Error().Caller()
}

func Warn() *zerolog.Event {
	return logger.Warn()
}

func Info() *zerolog.Event {
	return logger.Info()
}

func Debug() *zerolog.Event {
	return logger.Debug().Caller()
}
