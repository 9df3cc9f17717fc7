// Copyright 2019 The gVisor Authors.
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

//go:build amd64
// +build amd64

package cpuid

import "testing"

func TestParsePMCLeafUnsupported(t *testing.T) {
	p, err := ParsePMCLeaf(Out{})
	if err != nil {
		t.Fatalf("ParsePMCLeaf(zero) = %v, want nil error", err)
	}
	if p.Version != 0 {
		t.Errorf("Version = %d, want 0", p.Version)
	}
}

func TestParsePMCLeafVersion4(t *testing.T) {
	// Eax: version=4, 8 programmable counters, width=48, ebx length=7.
	// Edx: 4 fixed counters, width=48.
	out := Out{
		Eax: 0x04 | 8<<8 | 48<<16 | 7<<24,
		Ebx: 0x5a,
		Edx: 4 | 48<<5,
	}
	p, err := ParsePMCLeaf(out)
	if err != nil {
		t.Fatalf("ParsePMCLeaf: %v", err)
	}
	if p.Version != 4 {
		t.Errorf("Version = %d, want 4", p.Version)
	}
	if p.NumProgrammableCounters != 8 {
		t.Errorf("NumProgrammableCounters = %d, want 8", p.NumProgrammableCounters)
	}
	if p.ProgrammableCounterWidth != 48 {
		t.Errorf("ProgrammableCounterWidth = %d, want 48", p.ProgrammableCounterWidth)
	}
	if p.UnavailableEvents != 0x5a {
		t.Errorf("UnavailableEvents = %#x, want 0x5a", p.UnavailableEvents)
	}
	if p.NumFixedCounters != 4 {
		t.Errorf("NumFixedCounters = %d, want 4", p.NumFixedCounters)
	}
	if p.FixedCounterWidth != 48 {
		t.Errorf("FixedCounterWidth = %d, want 48", p.FixedCounterWidth)
	}
	if got, want := p.MaxProgrammableCounterValue(), uint64(1)<<48-1; got != want {
		t.Errorf("MaxProgrammableCounterValue() = %#x, want %#x", got, want)
	}
	if got, want := p.MaxFixedCounterValue(), uint64(1)<<48-1; got != want {
		t.Errorf("MaxFixedCounterValue() = %#x, want %#x", got, want)
	}
}

func TestParsePMCLeafVersion1HasNoFixedCounters(t *testing.T) {
	out := Out{Eax: 0x01 | 4<<8 | 40<<16}
	p, err := ParsePMCLeaf(out)
	if err != nil {
		t.Fatalf("ParsePMCLeaf: %v", err)
	}
	if p.NumFixedCounters != 0 || p.FixedCounterWidth != 0 {
		t.Errorf("version 1 leaf decoded fixed counters: %+v", p)
	}
}

func TestParsePMCLeafRejectsImplausibleValues(t *testing.T) {
	for name, out := range map[string]Out{
		"programmable count":  {Eax: 0x04 | (maxProgrammableCounters+1)<<8 | 48<<16},
		"programmable width":  {Eax: 0x04 | 8<<8 | 8<<16},
		"ebx length":          {Eax: 0x04 | 8<<8 | 48<<16 | 8<<24},
		"fixed count":         {Eax: 0x04 | 8<<8 | 48<<16, Edx: maxFixedCounters + 1},
		"fixed width":         {Eax: 0x04 | 8<<8 | 48<<16, Edx: 4 | 8<<5},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePMCLeaf(out); err == nil {
				t.Errorf("ParsePMCLeaf(%+v) succeeded, want error", out)
			}
		})
	}
}
