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

// validateControl implements §4.4's "Control" validator.
func validateControl(cfg *Config, c *capabilities) error {
	wantFreeze := cfg.DebugCtrl&debugCtrlFreezePerfmonOnPMIBit != 0
	if wantFreeze != debugCtrlFreezeOnPMI {
		return wrapf(ErrInvalidArgs, "stage_config: debug_ctrl FREEZE_PERFMON_ON_PMI must be %v", debugCtrlFreezeOnPMI)
	}
	if cfg.GlobalCtrl&^c.globalCtrlWritableBits != 0 {
		return wrapf(ErrInvalidArgs, "stage_config: global_ctrl has non-writable bits set")
	}
	if cfg.FixedCtrl&^c.fixedCtrlWritableBits != 0 {
		return wrapf(ErrInvalidArgs, "stage_config: fixed_ctrl has non-writable bits set")
	}
	if cfg.DebugCtrl&^c.debugCtrlWritableBits != 0 {
		return wrapf(ErrInvalidArgs, "stage_config: debug_ctrl has non-writable bits set")
	}
	return nil
}

// validateFixed implements §4.4's "Fixed counters" validator. On
// success it returns the number of used slots and the resolved
// hardware counter index for each.
func validateFixed(cfg *Config, c *capabilities) (numUsed int, hwMap [MaxFixedCounters]uint32, err error) {
	seenZero := false
	for i := 0; i < len(cfg.Fixed) && i < int(c.numFixed); i++ {
		entry := cfg.Fixed[i]
		if entry.ID == NoEventID {
			if !seenZero {
				numUsed = i
			}
			seenZero = true
			if entry.InitialValue != 0 {
				return 0, hwMap, wrapf(ErrInvalidArgs, "stage_config: fixed[%d]: unused slot has nonzero initial_value", i)
			}
			if entry.Flags != 0 {
				return 0, hwMap, wrapf(ErrInvalidArgs, "stage_config: fixed[%d]: unused slot has nonzero flags", i)
			}
			continue
		}
		if seenZero {
			return 0, hwMap, wrapf(ErrInvalidArgs, "stage_config: fixed[%d]: nonzero id follows a zero id (front-pack violation)", i)
		}
		if entry.InitialValue > c.maxFixedValue {
			return 0, hwMap, wrapf(ErrInvalidArgs, "stage_config: fixed[%d]: initial_value exceeds max fixed counter value", i)
		}
		if entry.Flags&^FlagMask != 0 {
			return 0, hwMap, wrapf(ErrInvalidArgs, "stage_config: fixed[%d]: flags outside FLAG_MASK", i)
		}
		regnum, ok := lookupFixedCounter(entry.ID)
		if !ok || regnum >= uint32(c.numFixed) {
			return 0, hwMap, wrapf(ErrInvalidArgs, "stage_config: fixed[%d]: id does not resolve to a hardware fixed counter", i)
		}
		hwMap[i] = regnum
	}
	if !seenZero {
		numUsed = minInt(len(cfg.Fixed), int(c.numFixed))
	}
	return numUsed, hwMap, nil
}

// validateProgrammable implements §4.4's "Programmable counters"
// validator.
func validateProgrammable(cfg *Config, c *capabilities) (numUsed int, err error) {
	seenZero := false
	for i := 0; i < len(cfg.Programmable) && i < int(c.numProgrammable); i++ {
		entry := cfg.Programmable[i]
		if entry.ID == NoEventID {
			if !seenZero {
				numUsed = i
			}
			seenZero = true
			if entry.InitialValue != 0 {
				return 0, wrapf(ErrInvalidArgs, "stage_config: programmable[%d]: unused slot has nonzero initial_value", i)
			}
			if entry.Flags != 0 {
				return 0, wrapf(ErrInvalidArgs, "stage_config: programmable[%d]: unused slot has nonzero flags", i)
			}
			if entry.Event != 0 {
				return 0, wrapf(ErrInvalidArgs, "stage_config: programmable[%d]: unused slot has nonzero event", i)
			}
			continue
		}
		if seenZero {
			return 0, wrapf(ErrInvalidArgs, "stage_config: programmable[%d]: nonzero id follows a zero id (front-pack violation)", i)
		}
		if entry.Event&^eventSelectWritableBitsVal != 0 {
			return 0, wrapf(ErrInvalidArgs, "stage_config: programmable[%d]: event has non-writable PERFEVTSEL bits", i)
		}
		if entry.InitialValue > c.maxProgrammableValue {
			return 0, wrapf(ErrInvalidArgs, "stage_config: programmable[%d]: initial_value exceeds max programmable counter value", i)
		}
		if entry.Flags&^FlagMask != 0 {
			return 0, wrapf(ErrInvalidArgs, "stage_config: programmable[%d]: flags outside FLAG_MASK", i)
		}
	}
	if !seenZero {
		numUsed = minInt(len(cfg.Programmable), int(c.numProgrammable))
	}
	return numUsed, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// stageConfig runs all three validators and, only if every one
// succeeds, commits cfg into the Session (§4.4 "On success ... copies
// the arrays verbatim"). On any failure the Session is left
// byte-identical to how it was found (P1).
func (s *Session) stageConfig(cfg *Config, c *capabilities) error {
	if err := validateControl(cfg, c); err != nil {
		return err
	}
	numUsedFixed, fixedHWMap, err := validateFixed(cfg, c)
	if err != nil {
		return err
	}
	numUsedProgrammable, err := validateProgrammable(cfg, c)
	if err != nil {
		return err
	}

	s.globalCtrl = cfg.GlobalCtrl
	s.fixedCtrl = cfg.FixedCtrl
	s.debugCtrl = cfg.DebugCtrl
	s.timebaseEvent = cfg.TimebaseEvent
	s.numUsedFixed = numUsedFixed
	s.numUsedProgrammable = numUsedProgrammable

	var fixed [MaxFixedCounters]CounterConfig
	copy(fixed[:], cfg.Fixed)
	for i := 0; i < numUsedFixed; i++ {
		fixed[i].hwIndex = fixedHWMap[i]
	}
	s.fixed = fixed

	var programmable [MaxProgrammableCounters]CounterConfig
	copy(programmable[:], cfg.Programmable)
	for i := 0; i < numUsedProgrammable; i++ {
		programmable[i].hwIndex = uint32(i)
	}
	s.programmable = programmable

	return nil
}
