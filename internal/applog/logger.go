package applog

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/fatih/color"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelOff:
		return "off"
	default:
		return "unknown"
	}
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "off":
		return LevelOff, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %q", s)
	}
}

// Logger is a leveled logger with colored level tags. Timestamps are UTC.
type Logger struct {
	out    *log.Logger
	level  Level
	prefix string

	debugf func(string, ...interface{}) string
	infof  func(string, ...interface{}) string
	warnf  func(string, ...interface{}) string
	errorf func(string, ...interface{}) string
}

func New(w io.Writer, level Level, colored bool) *Logger {
	l := &Logger{
		out:   log.New(w, "", log.LstdFlags|log.LUTC),
		level: level,
	}
	l.debugf = sprintf(color.FgCyan, colored)
	l.infof = sprintf(color.FgBlue, colored)
	l.warnf = sprintf(color.FgYellow, colored)
	l.errorf = sprintf(color.FgRed, colored)
	return l
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *Logger {
	return New(io.Discard, LevelOff, false)
}

func sprintf(attr color.Attribute, colored bool) func(string, ...interface{}) string {
	if !colored {
		return fmt.Sprintf
	}
	c := color.New(attr)
	c.EnableColor()
	return c.SprintfFunc()
}

// With returns a child logger whose messages carry a component tag.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		l = Discard()
	}
	child := &Logger{
		out:    l.out,
		level:  l.level,
		prefix: l.prefix + component + ": ",
		debugf: l.debugf,
		infof:  l.infof,
		warnf:  l.warnf,
		errorf: l.errorf,
	}
	return child
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	l.emit(LevelDebug, "[DEBUG] ", format, v...)
}

func (l *Logger) Infof(format string, v ...interface{}) {
	l.emit(LevelInfo, "[INFO] ", format, v...)
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	l.emit(LevelWarn, "[WARN] ", format, v...)
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.emit(LevelError, "[ERROR] ", format, v...)
}

// Printf logs at info level. It lets the logger stand in where a
// log.Printf-shaped sink is expected (cron.PrintfLogger).
func (l *Logger) Printf(format string, v ...interface{}) {
	l.Infof(format, v...)
}

func (l *Logger) emit(level Level, tag, format string, v ...interface{}) {
	if l == nil || level < l.level {
		return
	}
	paint := l.infof
	switch level {
	case LevelDebug:
		paint = l.debugf
	case LevelWarn:
		paint = l.warnf
	case LevelError:
		paint = l.errorf
	}
	l.out.Print(paint(tag+l.prefix+format, v...))
}
