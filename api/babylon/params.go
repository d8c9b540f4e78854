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

package babylon

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
	"golang.org/x/crypto/cryptobyte"
)

// TLV tags of the staking parameters.
const (
	TagAction            = 0x77
	TagFinalityCount     = 0xf9
	TagFinalityList      = 0xf8
	TagCovenantCount     = 0xc0
	TagCovenantList      = 0xc1
	TagStakerKey         = 0x51
	TagCovenantQuorum    = 0x01
	TagTimelock          = 0x71
	TagSlashingFeeLimit  = 0xfe
	TagUnbondingFeeLimit = 0xff
)

const (
	// KeySize is the size of an x-only public key.
	KeySize = 32
	// MaxFinalityProviders is the maximum number of finality provider keys.
	MaxFinalityProviders = 16
	// MaxCovenantKeys is the maximum number of covenant keys.
	MaxCovenantKeys = 16
	// MaxTimelock is the largest timelock the app accepts.
	MaxTimelock = math.MaxInt32
)

// Params are the staking parameters sent to the app before signing. All keys are x-only.
type Params struct {
	Action            Action
	FinalityProviders [][]byte
	CovenantKeys      [][]byte
	StakerKey         []byte
	CovenantQuorum    uint8
	// Timelock is the staking time in blocks for staking and withdraw transactions, and the
	// unbonding time for the other actions.
	Timelock uint64
	// SlashingFeeLimit and UnbondingFeeLimit override MaxFee if non-zero.
	SlashingFeeLimit  uint64
	UnbondingFeeLimit uint64

	// Counts as parsed from TLV, nil if absent. Checked against the lists by Validate.
	finalityCount *int
	covenantCount *int
}

func cloneKeys(keys [][]byte) [][]byte {
	cloned := make([][]byte, len(keys))
	for i, key := range keys {
		cloned[i] = bytes.Clone(key)
	}
	return cloned
}

func validateKeys(what string, keys [][]byte, max int) error {
	if len(keys) > max {
		return errp.Newf("too many %s keys: %d > %d", what, len(keys), max)
	}
	for i, key := range keys {
		if len(key) != KeySize {
			return errp.Newf("%s key %d has %d bytes", what, i, len(key))
		}
		if _, err := schnorr.ParsePubKey(key); err != nil {
			return errp.Wrapf(err, "%s key %d", what, i)
		}
	}
	return nil
}

// Validate checks the parameters for consistency. Parameters which are not needed by the action
// may be absent.
func (params *Params) Validate() error {
	if !params.Action.Valid() {
		return errp.Newf("invalid action %d", params.Action)
	}
	if err := validateKeys("finality provider", params.FinalityProviders, MaxFinalityProviders); err != nil {
		return err
	}
	if err := validateKeys("covenant", params.CovenantKeys, MaxCovenantKeys); err != nil {
		return err
	}
	if params.finalityCount != nil && *params.finalityCount != len(params.FinalityProviders) {
		return errp.Newf("finality provider count %d does not match %d keys",
			*params.finalityCount, len(params.FinalityProviders))
	}
	if params.covenantCount != nil && *params.covenantCount != len(params.CovenantKeys) {
		return errp.Newf("covenant count %d does not match %d keys",
			*params.covenantCount, len(params.CovenantKeys))
	}
	if params.StakerKey != nil {
		if err := validateKeys("staker", [][]byte{params.StakerKey}, 1); err != nil {
			return err
		}
	}
	if int(params.CovenantQuorum) > len(params.CovenantKeys) {
		return errp.Newf("covenant quorum %d exceeds %d keys",
			params.CovenantQuorum, len(params.CovenantKeys))
	}
	if params.Timelock > MaxTimelock {
		return errp.Newf("timelock %d out of range", params.Timelock)
	}
	return nil
}

// SameKeys returns true if both parameter sets have the same finality provider keys, covenant
// keys and quorum, in the same order. The app requires these to stay the same across the
// transactions of one staking.
func (params *Params) SameKeys(other *Params) bool {
	equal := func(a, b [][]byte) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !bytes.Equal(a[i], b[i]) {
				return false
			}
		}
		return true
	}
	return equal(params.FinalityProviders, other.FinalityProviders) &&
		equal(params.CovenantKeys, other.CovenantKeys) &&
		params.CovenantQuorum == other.CovenantQuorum
}

// MarshalTLV encodes the parameters as tag(1) length(2, big endian) value records. Absent
// parameters are omitted. Key lists are sent in script order, as the app builds its leaves
// from them as received.
func (params *Params) MarshalTLV() ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	var b cryptobyte.Builder
	add := func(tag uint8, value []byte) {
		b.AddUint8(tag)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(value) })
	}
	addUint64 := func(tag uint8, value uint64) {
		add(tag, binary.BigEndian.AppendUint64(nil, value))
	}
	add(TagAction, []byte{byte(params.Action)})
	if len(params.FinalityProviders) > 0 {
		add(TagFinalityCount, []byte{byte(len(params.FinalityProviders))})
		add(TagFinalityList, bytes.Join(sortKeys(params.FinalityProviders), nil))
	}
	if len(params.CovenantKeys) > 0 {
		add(TagCovenantCount, []byte{byte(len(params.CovenantKeys))})
		add(TagCovenantList, bytes.Join(sortKeys(params.CovenantKeys), nil))
	}
	if params.StakerKey != nil {
		add(TagStakerKey, params.StakerKey)
	}
	if params.CovenantQuorum != 0 {
		add(TagCovenantQuorum, []byte{params.CovenantQuorum})
	}
	if params.Timelock != 0 {
		addUint64(TagTimelock, params.Timelock)
	}
	if params.SlashingFeeLimit != 0 {
		addUint64(TagSlashingFeeLimit, params.SlashingFeeLimit)
	}
	if params.UnbondingFeeLimit != 0 {
		addUint64(TagUnbondingFeeLimit, params.UnbondingFeeLimit)
	}
	encoded, err := b.Bytes()
	return encoded, errp.WithStack(err)
}

func splitKeys(value []byte) ([][]byte, error) {
	if len(value)%KeySize != 0 {
		return nil, errp.Newf("key list of %d bytes", len(value))
	}
	keys := make([][]byte, 0, len(value)/KeySize)
	for len(value) > 0 {
		keys = append(keys, bytes.Clone(value[:KeySize]))
		value = value[KeySize:]
	}
	return keys, nil
}

// ParseTLV decodes parameters encoded with MarshalTLV. Unknown tags are skipped. The result is
// not validated.
func ParseTLV(data []byte) (*Params, error) {
	params := &Params{}
	input := cryptobyte.String(data)
	for !input.Empty() {
		var tag uint8
		var value cryptobyte.String
		if !input.ReadUint8(&tag) || !input.ReadUint16LengthPrefixed(&value) {
			return nil, errp.New("truncated TLV record")
		}
		fixed := func(size int) error {
			if len(value) != size {
				return errp.Newf("tag 0x%02x: expected %d bytes, got %d", tag, size, len(value))
			}
			return nil
		}
		var err error
		switch tag {
		case TagAction:
			if len(value) == 0 {
				return nil, errp.New("empty action")
			}
			params.Action = Action(value[0])
		case TagFinalityCount:
			if err = fixed(1); err == nil {
				count := int(value[0])
				params.finalityCount = &count
			}
		case TagFinalityList:
			params.FinalityProviders, err = splitKeys(value)
		case TagCovenantCount:
			if err = fixed(1); err == nil {
				count := int(value[0])
				params.covenantCount = &count
			}
		case TagCovenantList:
			params.CovenantKeys, err = splitKeys(value)
		case TagStakerKey:
			if err = fixed(KeySize); err == nil {
				params.StakerKey = bytes.Clone(value)
			}
		case TagCovenantQuorum:
			if err = fixed(1); err == nil {
				params.CovenantQuorum = value[0]
			}
		case TagTimelock, TagSlashingFeeLimit, TagUnbondingFeeLimit:
			if err = fixed(8); err != nil {
				break
			}
			v := binary.BigEndian.Uint64(value)
			switch tag {
			case TagTimelock:
				params.Timelock = v
			case TagSlashingFeeLimit:
				params.SlashingFeeLimit = v
			default:
				params.UnbondingFeeLimit = v
			}
		}
		if err != nil {
			return nil, err
		}
	}
	if len(params.FinalityProviders) > MaxFinalityProviders || len(params.CovenantKeys) > MaxCovenantKeys {
		return nil, errp.New("too many keys")
	}
	return params, nil
}

// Clone returns a deep copy.
func (params *Params) Clone() *Params {
	cloned := *params
	cloned.FinalityProviders = cloneKeys(params.FinalityProviders)
	cloned.CovenantKeys = cloneKeys(params.CovenantKeys)
	cloned.StakerKey = bytes.Clone(params.StakerKey)
	return &cloned
}
