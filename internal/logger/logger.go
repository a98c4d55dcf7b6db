package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup builds the process logger. In dev mode output is human readable and
// debug level is enabled. When file is set, log lines are also written to a
// size-rotated file.
func Setup(dev bool, file string) zerolog.Logger {
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	var out io.Writer = os.Stderr
	if dev {
		out = zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}
	}

	if file != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	return zerolog.New(out).Level(level).With().Timestamp().Caller().Logger()
}
