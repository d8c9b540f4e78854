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

// Package apdu encodes ISO 7816-4 style command APDUs as spoken by Ledger devices and interprets
// the trailing status word of their responses.
package apdu

import (
	"encoding/binary"
	"fmt"

	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
	"golang.org/x/crypto/cryptobyte"
)

const (
	// SWOK is the status word of a successful command.
	SWOK uint16 = 0x9000
	// SWConditionsNotSatisfied is returned when the user declines on the device.
	SWConditionsNotSatisfied uint16 = 0x6985
	// SWUserRefused is returned by newer firmwares when the user declines on the device.
	SWUserRefused uint16 = 0x5501

	// MaxDataLen is the largest payload a short APDU can carry.
	MaxDataLen = 255
)

// Communication is the transport a command is exchanged over. Query sends one raw APDU and returns
// the raw response, including the two status word bytes.
type Communication interface {
	Query([]byte) ([]byte, error)
	Close()
}

// Command is one command APDU. Lc is derived from Data and always emitted, also when Data is
// empty.
type Command struct {
	CLA  byte
	INS  byte
	P1   byte
	P2   byte
	Data []byte
}

// Encode serializes the command.
func (cmd Command) Encode() ([]byte, error) {
	if len(cmd.Data) > MaxDataLen {
		return nil, errp.Newf("apdu data too long: %d > %d", len(cmd.Data), MaxDataLen)
	}
	var b cryptobyte.Builder
	b.AddUint8(cmd.CLA)
	b.AddUint8(cmd.INS)
	b.AddUint8(cmd.P1)
	b.AddUint8(cmd.P2)
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(cmd.Data)
	})
	encoded, err := b.Bytes()
	if err != nil {
		return nil, errp.WithStack(err)
	}
	return encoded, nil
}

func (cmd Command) String() string {
	return fmt.Sprintf("%02x %02x %02x %02x [%d]", cmd.CLA, cmd.INS, cmd.P1, cmd.P2, len(cmd.Data))
}

// StatusError is returned when the device answers with a status word other than SWOK.
type StatusError uint16

// Error implements error.
func (e StatusError) Error() string {
	return fmt.Sprintf("device returned status 0x%04x", uint16(e))
}

// IsRejected returns true if the status word means that the user declined on the device.
func (e StatusError) IsRejected() bool {
	return uint16(e) == SWConditionsNotSatisfied || uint16(e) == SWUserRefused
}

// SplitStatus splits a raw response into its data and status word.
func SplitStatus(response []byte) ([]byte, uint16, error) {
	if len(response) < 2 {
		return nil, 0, errp.Newf("response too short: %d bytes", len(response))
	}
	n := len(response) - 2
	return response[:n], binary.BigEndian.Uint16(response[n:]), nil
}

// Transmit encodes cmd, queries it and returns the response data. A status word other than SWOK
// is returned as StatusError.
func Transmit(comm Communication, cmd Command) ([]byte, error) {
	request, err := cmd.Encode()
	if err != nil {
		return nil, err
	}
	response, err := comm.Query(request)
	if err != nil {
		return nil, err
	}
	data, sw, err := SplitStatus(response)
	if err != nil {
		return nil, err
	}
	if sw != SWOK {
		return nil, errp.WithStack(StatusError(sw))
	}
	return data, nil
}
