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

// Command pmutrace drives the PMU trace core end to end against the
// host it runs on: it loads a session description, stages it, maps a
// memfd-backed buffer per CPU, starts counting, and runs until
// interrupted, exporting Prometheus metrics and logging
// hardware-reported anomalies along the way.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"pmutrace.dev/pmutrace/pkg/cpuid"
	"pmutrace.dev/pmutrace/pkg/log"
	"pmutrace.dev/pmutrace/pkg/pmu"
)

var (
	sessionPath = pflag.String("session", "", "path to the YAML session description")
	metricsAddr = pflag.String("metrics-addr", ":9273", "address to serve /metrics on")
	numCPUs     = pflag.Int("cpus", 1, "number of logical CPUs this driver manages")
	statsPeriod = pflag.Duration("stats-period", 10*time.Second, "how often to drain and log PMI anomaly counters")
)

func fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	pflag.Parse()
	if err := configureLogging(time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "main: %v\n", err)
		os.Exit(1)
	}
	if *sessionPath == "" {
		fatalf("main: --session is required")
	}

	cfg, bufferBytes, err := loadSession(*sessionPath)
	if err != nil {
		fatalf("main: %v", err)
	}

	hw := newHostHardware()
	ctl := pmu.NewController(cpuid.HostFeatureSet(), hw, *numCPUs)
	props := ctl.GetProperties()
	if !props.SupportsPerfmon {
		fatalf("main: host does not support architectural performance monitoring v%d+", 4)
	}
	log.Infof("pmutrace: host reports PMU version %d, %d programmable + %d fixed counters",
		props.Version, props.NumProgrammable, props.NumFixed)

	if err := ctl.Init(); err != nil {
		fatalf("main: init: %v", err)
	}
	if err := ctl.StageConfig(cfg); err != nil {
		fatalf("main: stage_config: %v", err)
	}

	files := make([]*os.File, *numCPUs)
	for cpu := 0; cpu < *numCPUs; cpu++ {
		f, err := anonMemfd(fmt.Sprintf("pmutrace-cpu%d", cpu), bufferBytes)
		if err != nil {
			fatalf("main: cpu %d: allocating trace buffer: %v", cpu, err)
		}
		files[cpu] = f
		if err := ctl.AssignBuffer(cpu, pmu.NewFileMemObject(f)); err != nil {
			fatalf("main: cpu %d: assign_buffer: %v", cpu, err)
		}
	}

	if err := ctl.Start(); err != nil {
		fatalf("main: start: %v", err)
	}
	log.Infof("pmutrace: session running on %d CPUs, serving metrics on %s", *numCPUs, *metricsAddr)

	m := newMetrics()
	m.serve(*metricsAddr)
	stopReporter := reportStats(ctl, m, *statsPeriod)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	stopReporter()
	if err := ctl.Stop(); err != nil {
		fatalf("main: stop: %v", err)
	}
	if err := ctl.Fini(); err != nil {
		fatalf("main: fini: %v", err)
	}
	for _, f := range files {
		_ = f.Close()
	}
}

// reportStats starts the rate-limited background reporter that drains
// Controller.Stats() (SPEC_FULL.md §4.8): the PMI handler itself only
// ever increments an atomic counter, since logging from interrupt
// context is not bounded-time. The returned function stops the
// reporter.
func reportStats(ctl *pmu.Controller, m *metrics, period time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		var lastReset uint64
		for {
			select {
			case <-ticker.C:
				stats := ctl.Stats()
				m.resetAnomalies.Set(float64(stats.ResetAnomalies))
				if stats.ResetAnomalies != lastReset {
					log.Warningf("pmutrace: %d cumulative GLOBAL_STATUS reset anomalies observed", stats.ResetAnomalies)
					lastReset = stats.ResetAnomalies
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func init() {
	// The ring-0 MSR primitives assume the calling goroutine stays
	// pinned to one OS thread for the duration of a broadcast; without
	// this the Go runtime could migrate the goroutine mid-sequence and
	// have startCPU/stopCPU program the wrong logical CPU's registers.
	runtime.LockOSThread()
}
