package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Level is a logging threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" or "error" to a Level. Unknown
// values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// Logger provides leveled logging throughout the application.
type Logger struct {
	min   Level
	info  *log.Logger
	warn  *log.Logger
	err   *log.Logger
	debug *log.Logger
}

// NewLogger creates a Logger writing info/warn/debug to stdout and errors to
// stderr, filtering below min.
func NewLogger(min Level) *Logger {
	flags := 0
	return &Logger{
		min:   min,
		info:  log.New(os.Stdout, "", flags),
		warn:  log.New(os.Stdout, "", flags),
		err:   log.New(os.Stderr, "", flags),
		debug: log.New(os.Stdout, "", flags),
	}
}

// NewDiscardLogger returns a Logger that drops everything. Used by tests.
func NewDiscardLogger() *Logger {
	l := log.New(io.Discard, "", 0)
	return &Logger{min: LevelError + 1, info: l, warn: l, err: l, debug: l}
}

func (l *Logger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func (l *Logger) Info(format string, args ...any) {
	if l.min > LevelInfo {
		return
	}
	l.info.Printf(fmt.Sprintf("[%s] \033[32mINFO\033[0m  %s\n", l.timestamp(), format), args...)
}

func (l *Logger) Warn(format string, args ...any) {
	if l.min > LevelWarn {
		return
	}
	l.warn.Printf(fmt.Sprintf("[%s] \033[33mWARN\033[0m  %s\n", l.timestamp(), format), args...)
}

func (l *Logger) Error(format string, args ...any) {
	if l.min > LevelError {
		return
	}
	l.err.Printf(fmt.Sprintf("[%s] \033[31mERROR\033[0m %s\n", l.timestamp(), format), args...)
}

func (l *Logger) Debug(format string, args ...any) {
	if l.min > LevelDebug {
		return
	}
	l.debug.Printf(fmt.Sprintf("[%s] \033[36mDEBUG\033[0m %s\n", l.timestamp(), format), args...)
}
