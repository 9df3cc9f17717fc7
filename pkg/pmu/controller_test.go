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

package pmu

import "pmutrace.dev/pmutrace/pkg/cpuid"

// testPMC is the fixture performance-monitoring leaf used throughout
// this package's tests: 1 fixed counter, 1 programmable counter, both
// 48 bits wide, performance-monitoring version 4 (the minimum this
// package accepts).
var testPMC = cpuid.PMCLeaf{
	Version:                  4,
	NumProgrammableCounters:  1,
	ProgrammableCounterWidth: 48,
	NumFixedCounters:         1,
	FixedCounterWidth:        48,
}

func testFeatureSet(pmc cpuid.PMCLeaf) cpuid.FeatureSet {
	return cpuid.FakeIntelPMC(6, 0x8f, 1, pmc).ToFeatureSet()
}

// newTestController builds a Controller over numCPUs fake CPUs using
// testPMC, along with the fake hardware backing it.
func newTestController(numCPUs int) (*Controller, *fakeHardware) {
	hw := newFakeHardware(numCPUs)
	ctl := NewController(testFeatureSet(testPMC), hw, numCPUs)
	return ctl, hw
}

// validConfig returns a Config that passes validation against testPMC:
// one fixed counter (instructions retired) and one programmable
// counter, both initial value 0, no flags.
func validConfig() *Config {
	return &Config{
		GlobalCtrl:    1<<0 | 1<<32,
		FixedCtrl:     0xf,
		DebugCtrl:     0,
		TimebaseEvent: NoEventID,
		Fixed: []CounterConfig{
			{ID: MakeEventID(EventUnitFixed, FixedEventInstructionsRetired), InitialValue: 0},
		},
		Programmable: []CounterConfig{
			{ID: MakeEventID(EventUnitArch, 1), InitialValue: 0, Event: 0x004100cd},
		},
	}
}

// bringUp drives a Controller through init/stage_config/assign_buffer
// for every CPU and returns the backing memory objects, leaving the
// Controller in CONFIGURED.
func bringUp(t testingT, ctl *Controller, numCPUs int) []*fakeMemObject {
	t.Helper()
	if err := ctl.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := ctl.StageConfig(validConfig()); err != nil {
		t.Fatalf("StageConfig: %v", err)
	}
	mems := make([]*fakeMemObject, numCPUs)
	for cpu := 0; cpu < numCPUs; cpu++ {
		m := newFakeMemObject(int(minBufferSize(ctl.caps)))
		mems[cpu] = m
		if err := ctl.AssignBuffer(cpu, m); err != nil {
			t.Fatalf("AssignBuffer(%d): %v", cpu, err)
		}
	}
	return mems
}

// testingT is the subset of *testing.T this file's helpers need, so
// they can also be driven from *rapid.T in property_test.go.
type testingT interface {
	Helper()
	Fatalf(format string, args ...any)
}
