// Copyright 2025 Tomo Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package common contains definitions shared by the device packages.
package common

import "fmt"

// TargetID identifies the hardware and secure element firmware generation of a Ledger device. It
// is the first word returned by GET_VERSION.
type TargetID uint32

// Known targets, as reported by GET_VERSION.
const (
	TargetFlex           TargetID = 0x33300004
	TargetStax           TargetID = 0x33200004
	TargetNanoSPlus      TargetID = 0x33100004
	TargetNanoXDeveloper TargetID = 0x33000004
	TargetNanoSUpTo131   TargetID = 0x31100002
	TargetNanoS14        TargetID = 0x31100003
	TargetNanoSFrom15    TargetID = 0x31100004
	TargetBlueUpTo20     TargetID = 0x31000002
	TargetBlue21         TargetID = 0x31000004
	TargetBlueV2_21      TargetID = 0x31010004
)

// Device describes a known target.
type Device struct {
	Name string
	// ImageFile is the name of the application image built for this target.
	ImageFile string
}

var devices = map[TargetID]Device{
	TargetFlex:           {"Ledger Flex", "flex.apdu"},
	TargetStax:           {"Ledger Stax", "stax.apdu"},
	TargetNanoSPlus:      {"Ledger Nano S Plus", "nano_sp.apdu"},
	TargetNanoXDeveloper: {"Ledger Nano X (developer)", "nano_x_developer.apdu"},
	TargetNanoSUpTo131:   {"Ledger Nano S <= 1.3.1", "nano_s.apdu"},
	TargetNanoS14:        {"Ledger Nano S 1.4.x", "nano_s.apdu"},
	TargetNanoSFrom15:    {"Ledger Nano S >= 1.5.x", "nano_s.apdu"},
	TargetBlueUpTo20:     {"Ledger Blue <= 2.0", "ledger_blue.apdu"},
	TargetBlue21:         {"Ledger Blue 2.1.x", "ledger_blue.apdu"},
	TargetBlueV2_21:      {"Ledger Blue v2 2.1.x", "ledger_blue.apdu"},
}

// Device looks up the target in the table of supported devices.
func (target TargetID) Device() (Device, bool) {
	device, ok := devices[target]
	return device, ok
}

// SCPVersion returns the secure channel protocol revision the target speaks, encoded in the low
// nibble.
func (target TargetID) SCPVersion() int {
	return int(target & 0xf)
}

func (target TargetID) String() string {
	return fmt.Sprintf("0x%08x", uint32(target))
}

// KnownTargets returns all supported targets.
func KnownTargets() []TargetID {
	targets := make([]TargetID, 0, len(devices))
	for target := range devices {
		targets = append(targets, target)
	}
	return targets
}
