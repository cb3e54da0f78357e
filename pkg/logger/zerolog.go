package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0o664
)

// LogBuild assembles a zerolog backed sink, used by the CLI for --log-file.
type LogBuild struct {
	writer io.Writer
	path   string
	level  zerolog.Level
}

// LogData owns the sink. Close releases the log file, if any.
type LogData struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

func NewBuild() *LogBuild {
	return &LogBuild{writer: os.Stderr, level: zerolog.InfoLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

func (build *LogBuild) WithLevel(name string) *LogBuild {
	if lvl, err := zerolog.ParseLevel(name); err == nil && lvl != zerolog.NoLevel {
		build.level = lvl
	}
	return build
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)
	writer := build.writer
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		writer = zerolog.SyncWriter(logData.LogFile)
	}
	logData.Logger = zerolog.New(writer).Level(build.level).With().Timestamp().Logger()
	return logData, nil
}

// Close closes the underlying log file.
func (logData *LogData) Close() error {
	if logData.LogFile == nil {
		return nil
	}
	return logData.LogFile.Close()
}

// AsLogger exposes the sink through the Logger interface.
func (logData *LogData) AsLogger() Logger {
	return &Zerolog{logger: logData.Logger}
}

// Zerolog adapts a zerolog.Logger to Logger. Args are key/value pairs,
// like slog; a trailing key without a value is logged under "!BADKEY".
type Zerolog struct {
	logger zerolog.Logger
}

func (z *Zerolog) Error(msg string, args ...any) { z.emit(z.logger.Error(), msg, args) }
func (z *Zerolog) Warn(msg string, args ...any)  { z.emit(z.logger.Warn(), msg, args) }
func (z *Zerolog) Info(msg string, args ...any)  { z.emit(z.logger.Info(), msg, args) }
func (z *Zerolog) Debug(msg string, args ...any) { z.emit(z.logger.Debug(), msg, args) }

func (z *Zerolog) emit(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			ev = ev.Interface("!BADKEY", args[i])
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, isErr := args[i+1].(error); isErr {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
