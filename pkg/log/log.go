// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log implements a leveled logging facade used throughout the
// tracing subsystem. Interrupt-context code must not call into this
// package: Emit formats and may allocate.
package log

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// Level is the log level.
type Level int32

const (
	// Warning indicates a condition that deserves operator attention but
	// does not prevent the subsystem from functioning.
	Warning Level = iota

	// Info is the default level for informational messages.
	Info

	// Debug is used for verbose, high-frequency diagnostic output.
	Debug
)

// String returns a human-readable name for the level.
func (l Level) String() string {
	switch l {
	case Warning:
		return "warning"
	case Info:
		return "info"
	case Debug:
		return "debug"
	default:
		return fmt.Sprintf("Level(%d)", int32(l))
	}
}

// Emitter is the interface to something that can emit logs.
type Emitter interface {
	// Emit emits the given log statement. depth is the number of
	// additional stack frames to skip when attributing a caller's
	// file:line, analogous to log.Output.
	Emit(depth int, level Level, timestamp time.Time, format string, v ...any)
}

// Writer is a simple emitter backend writing formatted lines to an
// io.Writer, used by JSONEmitter and similar.
type Writer struct {
	// Next is the underlying writer.
	Next io.Writer
}

// Write implements io.Writer.Write.
func (w *Writer) Write(p []byte) (int, error) {
	p = append(p, '\n')
	return w.Next.Write(p)
}

// Emit implements Emitter by writing the formatted message directly,
// ignoring depth/level/timestamp: it is the terminal emitter a
// decorating wrapper such as GoogleEmitter writes its already-decorated
// line through.
func (w *Writer) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	fmt.Fprintf(w, format, v...)
}

// Logger is the interface for logging implementations. Every exported
// package-level function in this package forwards to an implementation
// of this interface.
type Logger interface {
	// Debugf logs at Debug level.
	Debugf(format string, v ...any)

	// Infof logs at Info level.
	Infof(format string, v ...any)

	// Warningf logs at Warning level.
	Warningf(format string, v ...any)

	// IsLogging returns whether the given level is currently enabled,
	// allowing callers to skip expensive argument construction.
	IsLogging(level Level) bool
}

// BasicLogger logs at a fixed level to a fixed Emitter.
type BasicLogger struct {
	// Level is the current logging level.
	Level Level

	// Emitter is the underlying emitter.
	Emitter
}

// Debugf implements Logger.Debugf.
func (l *BasicLogger) Debugf(format string, v ...any) {
	if l.IsLogging(Debug) {
		l.Emit(1, Debug, time.Now(), format, v...)
	}
}

// Infof implements Logger.Infof.
func (l *BasicLogger) Infof(format string, v ...any) {
	if l.IsLogging(Info) {
		l.Emit(1, Info, time.Now(), format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (l *BasicLogger) Warningf(format string, v ...any) {
	if l.IsLogging(Warning) {
		l.Emit(1, Warning, time.Now(), format, v...)
	}
}

// IsLogging implements Logger.IsLogging. A lower-valued level is more
// severe and is always included once the configured Level reaches it.
func (l *BasicLogger) IsLogging(level Level) bool {
	return atomic.LoadInt32((*int32)(&l.Level)) >= int32(level)
}

// log is the global logger, defaulting to an Info-level emitter that
// writes glog-style lines to stderr.
var log atomic.Pointer[Logger]

func init() {
	var l Logger = &BasicLogger{
		Level: Info,
		Emitter: GoogleEmitter{Emitter: &Writer{Next: os.Stderr}},
	}
	log.Store(&l)
}

// SetTarget sets the global logger target. This is not thread-safe with
// respect to concurrent logging calls and should be called only during
// initialization.
func SetTarget(target Logger) {
	log.Store(&target)
}

// Log returns the global logger.
func Log() Logger {
	return *log.Load()
}

// Debugf logs to the global logger at Debug level.
func Debugf(format string, v ...any) {
	Log().Debugf(format, v...)
}

// Infof logs to the global logger at Info level.
func Infof(format string, v ...any) {
	Log().Infof(format, v...)
}

// Warningf logs to the global logger at Warning level.
func Warningf(format string, v ...any) {
	Log().Warningf(format, v...)
}

// IsLogging returns whether the global logger is logging at the given level.
func IsLogging(level Level) bool {
	return Log().IsLogging(level)
}
