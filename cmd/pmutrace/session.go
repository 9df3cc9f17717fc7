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
	"os"

	"gopkg.in/yaml.v3"

	"pmutrace.dev/pmutrace/pkg/pmu"
)

// sessionFile is the on-disk shape of a session description: the
// control values and per-counter arrays that, once resolved, become a
// pmu.Config. It exists because pmu.Config's EventID and flag bits are
// not convenient to author by hand in a wire-level uint32/uint32 form.
type sessionFile struct {
	GlobalCtrl uint64 `yaml:"global_ctrl"`
	FixedCtrl  uint64 `yaml:"fixed_ctrl"`
	DebugCtrl  uint64 `yaml:"debug_ctrl"`

	// TimebaseEvent names the event that, when it overflows, samples
	// every counter flagged "timebase". Omit for no timebase.
	TimebaseEvent *eventRef `yaml:"timebase_event"`

	Fixed        []counterEntry `yaml:"fixed"`
	Programmable []counterEntry `yaml:"programmable"`

	// BufferBytes is the size, per CPU, of the memfd-backed trace
	// buffer AssignBuffer maps in.
	BufferBytes int64 `yaml:"buffer_bytes"`
}

// eventRef names an EventID by unit ("fixed" or "arch") and code,
// rather than asking the session file to compute the packed uint32.
type eventRef struct {
	Unit string `yaml:"unit"`
	Code uint32 `yaml:"code"`
}

func (e eventRef) resolve() (pmu.EventID, error) {
	switch e.Unit {
	case "fixed":
		return pmu.MakeEventID(pmu.EventUnitFixed, e.Code), nil
	case "arch":
		return pmu.MakeEventID(pmu.EventUnitArch, e.Code), nil
	default:
		return 0, fmt.Errorf("session: event unit %q must be \"fixed\" or \"arch\"", e.Unit)
	}
}

type counterEntry struct {
	Event        eventRef `yaml:"event"`
	InitialValue uint64   `yaml:"initial_value"`
	Flags        []string `yaml:"flags"`

	// PerfEvtSel is the raw PERFEVTSEL value for a programmable
	// counter; ignored for fixed counters, which select their event
	// through the fixed-counter table instead.
	PerfEvtSel uint64 `yaml:"perf_evt_sel"`
}

func (c counterEntry) resolve() (pmu.CounterConfig, error) {
	id, err := c.Event.resolve()
	if err != nil {
		return pmu.CounterConfig{}, err
	}
	var flags uint32
	for _, f := range c.Flags {
		switch f {
		case "pc":
			flags |= pmu.FlagPC
		case "timebase":
			flags |= pmu.FlagTimebase
		default:
			return pmu.CounterConfig{}, fmt.Errorf("session: unknown flag %q", f)
		}
	}
	return pmu.CounterConfig{
		ID:           id,
		InitialValue: c.InitialValue,
		Flags:        flags,
		Event:        c.PerfEvtSel,
	}, nil
}

// loadSession parses the session description at path and resolves it
// into a pmu.Config plus the per-CPU buffer size the caller should
// allocate.
func loadSession(path string) (*pmu.Config, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("session: reading %s: %w", path, err)
	}
	var sf sessionFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, 0, fmt.Errorf("session: parsing %s: %w", path, err)
	}

	cfg := &pmu.Config{
		GlobalCtrl:    sf.GlobalCtrl,
		FixedCtrl:     sf.FixedCtrl,
		DebugCtrl:     sf.DebugCtrl,
		TimebaseEvent: pmu.NoEventID,
	}
	if sf.TimebaseEvent != nil {
		id, err := sf.TimebaseEvent.resolve()
		if err != nil {
			return nil, 0, err
		}
		cfg.TimebaseEvent = id
	}
	for i, e := range sf.Fixed {
		cc, err := e.resolve()
		if err != nil {
			return nil, 0, fmt.Errorf("session: fixed[%d]: %w", i, err)
		}
		cfg.Fixed = append(cfg.Fixed, cc)
	}
	for i, e := range sf.Programmable {
		cc, err := e.resolve()
		if err != nil {
			return nil, 0, fmt.Errorf("session: programmable[%d]: %w", i, err)
		}
		cfg.Programmable = append(cfg.Programmable, cc)
	}

	return cfg, sf.BufferBytes, nil
}
