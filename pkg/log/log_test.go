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

package log

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestBasicLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Warning, Emitter: &Writer{Next: &buf}}
	l.Infof("should not appear")
	l.Warningf("should appear")
	if buf.Len() == 0 {
		t.Fatal("Warningf produced no output")
	}
	if strings.Contains(buf.String(), "should not appear") {
		t.Errorf("Infof logged below the configured level: %q", buf.String())
	}
}

func TestGoogleEmitterWritesThroughTerminalEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := GoogleEmitter{Emitter: &Writer{Next: &buf}}
	e.Emit(0, Info, time.Unix(0, 0), "hello %d", 7)
	if !strings.Contains(buf.String(), "hello 7") {
		t.Errorf("output %q missing formatted message", buf.String())
	}
}

func TestJSONEmitterProducesJSON(t *testing.T) {
	var buf bytes.Buffer
	e := JSONEmitter{Writer: &Writer{Next: &buf}}
	e.Emit(0, Warning, time.Unix(0, 0), "oops %s", "bad")
	out := buf.String()
	for _, want := range []string{`"msg"`, `"warning"`, "oops bad"} {
		if !strings.Contains(out, want) {
			t.Errorf("JSON output %q missing %q", out, want)
		}
	}
}

func TestRateLimitedLoggerDropsBurst(t *testing.T) {
	var buf bytes.Buffer
	base := &BasicLogger{Level: Info, Emitter: &Writer{Next: &buf}}
	rl := RateLimitedLogger(base, time.Hour)

	rl.Infof("first")
	rl.Infof("second")

	out := buf.String()
	if !strings.Contains(out, "first") {
		t.Errorf("first call dropped: %q", out)
	}
	if strings.Contains(out, "second") {
		t.Errorf("second call within the rate window was not dropped: %q", out)
	}
}
