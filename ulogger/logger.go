// Package ulogger provides the structured logging surface shared by every
// subsystem in this module. It mirrors the teacher repository's
// util/logger.go: zerolog underneath, gocore for the "which logger / which
// level" bootstrap switch, and the ordishs/go-utils Logger interface as the
// contract components actually depend on so they never import zerolog
// directly.
package ulogger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ordishs/go-utils"
	"github.com/ordishs/gocore"
	"github.com/rs/zerolog"
)

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorBlue    = 34
	colorWhite   = 37
	colorBold    = 1
	colorDarkGray = 90
)

// Logger is the contract every component takes at construction time.
type Logger = utils.Logger

// ZLoggerWrapper adapts zerolog.Logger to the Logger contract.
type ZLoggerWrapper struct {
	zerolog.Logger
	service string
}

// New creates a logger for the named subsystem, honoring the "logger"
// gocore config key the same way the teacher's NewLogger does: "gocore"
// delegates to gocore's own logger, anything else (including unset) uses
// zerolog.
func New(service string, logLevel ...string) utils.Logger {
	useLogger, _ := gocore.Config().Get("logger", "zerolog")

	switch useLogger {
	case "gocore":
		if len(logLevel) > 0 {
			return gocore.Log(service, gocore.NewLogLevelFromString(logLevel[0]))
		}
		return gocore.Log(service)
	default:
		return NewZeroLogger(service, logLevel...)
	}
}

// NewZeroLogger builds a zerolog-backed logger directly, bypassing the
// gocore/zerolog switch in New.
func NewZeroLogger(service string, logLevel ...string) *ZLoggerWrapper {
	if service == "" {
		service = "hybridcore"
	}

	var z *ZLoggerWrapper
	if gocore.Config().GetBool("PRETTY_LOGS", true) {
		z = prettyZeroLogger(service)
	} else {
		z = &ZLoggerWrapper{
			zerolog.New(os.Stdout).With().
				CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2).
				Timestamp().
				Logger(),
			service,
		}
	}

	if len(logLevel) > 0 {
		setLevel(logLevel[0], z)
	}

	return z
}

func setLevel(logLevel string, z *ZLoggerWrapper) {
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		z.Logger = z.Logger.Level(zerolog.DebugLevel)
	case "WARN":
		z.Logger = z.Logger.Level(zerolog.WarnLevel)
	case "ERROR":
		z.Logger = z.Logger.Level(zerolog.ErrorLevel)
	case "FATAL":
		z.Logger = z.Logger.Level(zerolog.FatalLevel)
	default:
		z.Logger = z.Logger.Level(zerolog.InfoLevel)
	}
}

func prettyZeroLogger(service string) *ZLoggerWrapper {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	output.FormatTimestamp = func(i interface{}) string {
		parsed, _ := time.Parse(time.RFC3339, fmt.Sprintf("%s", i))
		return parsed.Format("15:04:05")
	}

	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("| %-6s| %v", service, i)
	}

	return &ZLoggerWrapper{
		zerolog.New(output).With().Timestamp().Logger(),
		service,
	}
}

func (z *ZLoggerWrapper) LogLevel() int {
	switch z.Logger.GetLevel() {
	case zerolog.DebugLevel:
		return int(gocore.DEBUG)
	case zerolog.WarnLevel:
		return int(gocore.WARN)
	case zerolog.ErrorLevel:
		return int(gocore.ERROR)
	case zerolog.FatalLevel:
		return int(gocore.FATAL)
	default:
		return int(gocore.INFO)
	}
}

func (z *ZLoggerWrapper) Debugf(format string, args ...interface{}) { z.Logger.Debug().Msgf(format, args...) }
func (z *ZLoggerWrapper) Infof(format string, args ...interface{})  { z.Logger.Info().Msgf(format, args...) }
func (z *ZLoggerWrapper) Warnf(format string, args ...interface{})  { z.Logger.Warn().Msgf(format, args...) }
func (z *ZLoggerWrapper) Errorf(format string, args ...interface{}) { z.Logger.Error().Msgf(format, args...) }
func (z *ZLoggerWrapper) Fatalf(format string, args ...interface{}) { z.Logger.Fatal().Msgf(format, args...) }

// TestLogger returns a quiet logger suitable for unit tests.
func TestLogger() utils.Logger {
	z := NewZeroLogger("test", "ERROR")
	return z
}
