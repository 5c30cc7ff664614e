// GoMailFW
// Copyright (C) 2016 The GoMailFW Authors
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

package log

import (
	"fmt"
	"os"

	golog "github.com/coreos/go-log/log"
)

var defaultSink = golog.WriterSink(os.Stderr,
	"%s %s: %s[%d] [%s] %s\n",
	[]string{"time", "priority", "executable", "pid", "prefix", "message"})

// Logger is the message sink the engine reports through. It never blocks
// and never panics; messages below the configured priority are dropped.
type Logger struct {
	*golog.Logger
	categories map[string]bool
}

func GetLogger(prefix string, loglevel string) *Logger {
	return GetLoggerC(prefix, loglevel, nil)
}

// GetLoggerC returns a logger that additionally lets through DebugC
// messages for the given categories.
func GetLoggerC(prefix string, loglevel string, categories []string) *Logger {
	pri, _ := LogLevelToPriority(loglevel)
	cm := make(map[string]bool)
	for _, c := range categories {
		cm[c] = true
	}
	logger := &Logger{
		Logger: golog.New(prefix, false, &PriorityFilter{
			pri,
			defaultSink,
		}),
		categories: cm,
	}
	return logger
}

// DebugC logs a debug message filtered by category: it is emitted only when
// the category was enabled at logger construction, regardless of the
// configured level.
func (l *Logger) DebugC(category string, v ...interface{}) {
	if l.categories[category] {
		l.Logger.Debug(v...)
	}
}

func (l *Logger) DebugCf(category string, format string, v ...interface{}) {
	if l.categories[category] {
		l.Logger.Debugf(format, v...)
	}
}

func (l *Logger) Warn(v ...interface{}) {
	l.Logger.Warning(v...)
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	l.Logger.Warningf(format, v...)
}

func (l *Logger) Critical(v ...interface{}) {
	l.Logger.Critical(v...)
}

func (l *Logger) Criticalf(format string, v ...interface{}) {
	l.Logger.Criticalf(format, v...)
}

type PriorityFilter struct {
	priority golog.Priority
	target   golog.Sink
}

func (filter *PriorityFilter) Log(fields golog.Fields) {
	// lower priority values indicate more important messages
	if fields["priority"].(golog.Priority) <= filter.priority {
		filter.target.Log(fields)
	}
}

var (
	LogLevelMap = map[string]golog.Priority{
		"critical": golog.PriCrit,
		"error":    golog.PriErr,
		"warn":     golog.PriWarning,
		"info":     golog.PriInfo,
		"debug":    golog.PriDebug,
	}
)

func LogLevelToPriority(loglevel string) (golog.Priority, error) {
	if l, ok := LogLevelMap[loglevel]; ok {
		return l, nil
	}
	err := fmt.Errorf("Wrong log level: %s", loglevel)
	return 0, err
}
