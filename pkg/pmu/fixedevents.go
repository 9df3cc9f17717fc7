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

// Fixed-counter event codes. These are the three architectural fixed-
// function events defined by every Intel part implementing
// performance-monitoring version ≥ 2 (Intel SDM Vol. 3B §19.2.1,
// Table 19-3), supplied here as unit-scoped event codes rather than
// copied from the table-generator macro the upstream table is built
// from (not present in the retrieved sources — see DESIGN.md).
const (
	FixedEventInstructionsRetired uint32 = iota
	FixedEventCPUClockUnhalted
	FixedEventRefClockUnhalted
)

// fixedCounterTable maps a fixed-event code to its hardware fixed-
// counter register number (FIXED_CTR0 + regnum). lookupFixedCounter
// reports a code missing from the table through its ok result;
// validate.go additionally rejects a register number at or beyond
// NumFixed.
var fixedCounterTable = map[uint32]uint32{
	FixedEventInstructionsRetired: 0,
	FixedEventCPUClockUnhalted:    1,
	FixedEventRefClockUnhalted:    2,
}

// lookupFixedCounter resolves a fixed EventID to its hardware counter
// index. ok is false if id is not a fixed-unit event or its code is
// not in the table.
func lookupFixedCounter(id EventID) (regnum uint32, ok bool) {
	if id.Unit() != EventUnitFixed {
		return 0, false
	}
	regnum, ok = fixedCounterTable[id.Code()]
	return regnum, ok
}
