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

import (
	"errors"
	"fmt"
)

// The five error kinds every public entry point reports synchronously.
// Callers should compare with errors.Is against these sentinels; wrap
// messages add the failing operation and detail.
var (
	// ErrNotSupported is returned when the host lacks a PMU of the
	// required architectural version, including before the probe has
	// run.
	ErrNotSupported = errors.New("pmu: not supported")

	// ErrBadState is returned when a state-machine precondition is
	// violated.
	ErrBadState = errors.New("pmu: bad state")

	// ErrInvalidArgs is returned when configuration validation or an
	// argument precondition fails.
	ErrInvalidArgs = errors.New("pmu: invalid arguments")

	// ErrNoMemory is returned when allocation or mapping fails due to
	// resource exhaustion.
	ErrNoMemory = errors.New("pmu: no memory")

	// ErrIO is returned when a memory-object mapping fails for reasons
	// other than allocation.
	ErrIO = errors.New("pmu: i/o error")
)

// wrapf wraps sentinel with additional context while keeping it
// discoverable via errors.Is.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
