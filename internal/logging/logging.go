package logging

import (
	"log"
	"os"
	"strings"
)

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// Logger is a minimal leveled logger over the standard library log
// package. All components receive it by injection; there is no
// package-level instance.
type Logger struct {
	min  level
	base *log.Logger
}

func New(levelName string) *Logger {
	return &Logger{min: parseLevel(levelName), base: log.New(os.Stdout, "", log.LstdFlags)}
}

func (l *Logger) Debugf(format string, args ...any) { l.printf(levelDebug, "[DEBUG] "+format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.printf(levelInfo, "[INFO] "+format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.printf(levelWarn, "[WARN] "+format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.printf(levelError, "[ERROR] "+format, args...) }

func (l *Logger) printf(lv level, format string, args ...any) {
	if lv >= l.min {
		l.base.Printf(format, args...)
	}
}
