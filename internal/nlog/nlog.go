// Package nlog is a small leveled logger in the style of aistore's
// cmn/nlog: verbosity-gated calls, structured key order, no external
// logging dependency. aistore's own nlog is itself a from-scratch
// internal package rather than a fetchable third-party module, so this
// is the one ambient concern grounded on that project's own practice
// rather than a third-party library — see DESIGN.md.
package nlog

import (
	"fmt"
	"log"
	"os"

	"github.com/MPAS-Dev/smiol-go/internal/config"
)

type Logger struct {
	level  config.LogLevel
	std    *log.Logger
	prefix string
}

func New(level config.LogLevel, prefix string) *Logger {
	return &Logger{
		level:  level,
		std:    log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
		prefix: prefix,
	}
}

func (l *Logger) FastV(level config.LogLevel) bool { return l != nil && l.level >= level }

func (l *Logger) Debugf(format string, args ...any) {
	if l.FastV(config.LogDebug) {
		l.std.Output(2, fmt.Sprintf("D "+l.prefix+" "+format, args...))
	}
}

func (l *Logger) Infof(format string, args ...any) {
	if l.FastV(config.LogInfo) {
		l.std.Output(2, fmt.Sprintf("I "+l.prefix+" "+format, args...))
	}
}

func (l *Logger) Warnf(format string, args ...any) {
	if l.FastV(config.LogWarn) {
		l.std.Output(2, fmt.Sprintf("W "+l.prefix+" "+format, args...))
	}
}

func (l *Logger) Errorf(format string, args ...any) {
	l.std.Output(2, fmt.Sprintf("E "+l.prefix+" "+format, args...))
}
