// Copyright (C) 2024  mieru authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package log provides the process-wide logger used by the congestion
// control engine and its supporting packages. It is a thin wrapper around
// logrus that adds the Cli/Daemon/Nil output formatters used by the command
// line tools in cmd/.
package log

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

type (
	Level  = logrus.Level
	Fields = logrus.Fields
	Entry  = logrus.Entry
)

const (
	TraceLevel = logrus.TraceLevel
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
)

// std is the process-wide logger instance.
var std = logrus.New()

func init() {
	SetOutput(logrus.StandardLogger().Out)
	SetFormatter(&CliFormatter{})
	std.SetLevel(InfoLevel)
}

// SetOutput redirects log output to w.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// SetOutputToTest redirects log output to a *testing.T, so log lines show up
// next to the test that produced them.
func SetOutputToTest(t *testing.T) {
	std.SetOutput(testWriter{t})
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// SetFormatter changes how log entries are rendered.
func SetFormatter(f logrus.Formatter) {
	std.SetFormatter(f)
}

// SetLevel parses level (e.g. "DEBUG", "trace") and applies it to the
// process-wide logger. Invalid levels are ignored.
func SetLevel(level string) {
	if l, err := logrus.ParseLevel(level); err == nil {
		std.SetLevel(l)
	}
}

// IsLevelEnabled returns true if logging at level would produce output.
func IsLevelEnabled(level Level) bool {
	return std.IsLevelEnabled(level)
}

func WithFields(fields Fields) *logrus.Entry {
	return std.WithFields(fields)
}

func Tracef(format string, args ...any) { std.Tracef(format, args...) }
func Debugf(format string, args ...any) { std.Debugf(format, args...) }
func Infof(format string, args ...any)  { std.Infof(format, args...) }
func Warnf(format string, args ...any)  { std.Warnf(format, args...) }
func Errorf(format string, args ...any) { std.Errorf(format, args...) }
