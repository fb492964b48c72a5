package util

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var baseLog = zerolog.Nop()

// InitLog points the process logger at stdout. dev switches to the console
// writer.
func InitLog(level string, dev bool) {
	InitLogTo(os.Stdout, level, dev)
}
func InitLogTo(w io.Writer, level string, dev bool) {
	if dev {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	SetLogger(zerolog.New(w).With().
		Timestamp().
		Str("service", "pastelite").
		Logger(), level)
}

// SetLogger installs l at level. Unknown or empty levels mean info.
func SetLogger(l zerolog.Logger, level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	baseLog = l
	log.Logger = l
}
func Debug() *zerolog.Event { return baseLog.Debug() }
func Info() *zerolog.Event  { return baseLog.Info() }
func Warn() *zerolog.Event  { return baseLog.Warn() }
func Error() *zerolog.Event { return baseLog.Error() }
func Fatal() *zerolog.Event { return baseLog.Fatal() }
func GetLogger() zerolog.Logger {
	return baseLog
}
