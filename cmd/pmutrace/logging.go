// Copyright 2024 The gVisor Authors.
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

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"pmutrace.dev/pmutrace/pkg/log"
)

var (
	logFormat = pflag.String("log-format", "glog", "log line format: \"glog\" or \"json\"")
	logFile   = pflag.String("log-file", "", "if set, append logs to this path instead of stderr (%TIMESTAMP% is replaced)")
	logDebug  = pflag.Bool("log-debug", false, "enable debug-level logging")
)

// timestampOpts expands the single %TIMESTAMP% placeholder --log-file
// supports; anything more elaborate belongs in a real deployment's log
// rotation setup, not this demo driver.
type timestampOpts struct{ now time.Time }

func (o timestampOpts) Build(pattern string) string {
	return strings.ReplaceAll(pattern, "%TIMESTAMP%", o.now.Format("20060102-150405"))
}

// configureLogging wires --log-format/--log-file/--log-debug into the
// package-level logger before anything else runs. It must run before
// the first log.Infof/Warningf call so operators see a consistent
// stream for the whole process lifetime, including probe failures.
func configureLogging(now time.Time) error {
	var w io.Writer = os.Stderr
	if *logFile != "" {
		f, err := log.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, timestampOpts{now: now})
		if err != nil {
			return fmt.Errorf("log-file: %w", err)
		}
		w = f
	}

	var emitter log.Emitter
	switch *logFormat {
	case "glog":
		emitter = log.GoogleEmitter{Emitter: &log.Writer{Next: w}}
	case "json":
		emitter = log.JSONEmitter{Writer: &log.Writer{Next: w}}
	default:
		return fmt.Errorf("log-format: %q must be \"glog\" or \"json\"", *logFormat)
	}

	level := log.Info
	if *logDebug {
		level = log.Debug
	}
	log.SetTarget(&log.BasicLogger{Level: level, Emitter: emitter})
	return nil
}
