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

// Package cpuid provides a minimal, testable wrapper around the CPUID
// instruction, scoped to what a performance-monitoring core needs to
// know about the processor it is running on: vendor, family/model/
// stepping, and the architectural performance-monitoring leaf (0x0A).
//
// Code never calls the CPUID instruction directly. It goes through a
// FeatureSet backed by a Function, so that tests can substitute a
// Static table of canned leaves instead of querying real hardware.
package cpuid

// Feature is a unique identifier for a particular CPU feature bit,
// addressed by CPUID leaf and bit position.
type Feature struct {
	// leaf is the CPUID leaf (Eax input) the bit is read from.
	leaf uint32

	// reg selects which output register holds the bit: 0=Eax, 1=Ebx,
	// 2=Ecx, 3=Edx.
	reg uint8

	// bit is the bit position within reg.
	bit uint8
}

// ErrIncompatible is returned by FeatureSet compatibility checks when a
// FeatureSet is not a subset of another.
type ErrIncompatible struct {
	reason string
}

// Error implements error.
func (e *ErrIncompatible) Error() string {
	return e.reason
}
