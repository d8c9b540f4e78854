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
	"encoding/hex"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

// unspendableKeyHex is the x-only NUMS point used as internal key of all staking outputs, so they
// can only be spent by a script path.
const unspendableKeyHex = "50929b74c1a04954b78b4b6035e97a5e078a5a0f28ec96d547bfee9ace803ac0"

var unspendableKey = func() *btcec.PublicKey {
	keyBytes, err := hex.DecodeString(unspendableKeyHex)
	if err != nil {
		panic(err)
	}
	key, err := schnorr.ParsePubKey(keyBytes)
	if err != nil {
		panic(err)
	}
	return key
}()

// UnspendableKey returns the internal key of the staking outputs.
func UnspendableKey() *btcec.PublicKey {
	return unspendableKey
}

func sortKeys(keys [][]byte) [][]byte {
	sorted := cloneKeys(keys)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})
	return sorted
}

// addMultiSig adds a k-of-n check of the keys in lexicographic order. A single key is a plain
// signature check.
func addMultiSig(builder *txscript.ScriptBuilder, keys [][]byte, threshold int, verify bool) error {
	if len(keys) == 0 {
		return errp.New("no keys")
	}
	if threshold < 1 || threshold > len(keys) {
		return errp.Newf("threshold %d out of range for %d keys", threshold, len(keys))
	}
	if len(keys) == 1 {
		builder.AddData(keys[0])
		if verify {
			builder.AddOp(txscript.OP_CHECKSIGVERIFY)
		} else {
			builder.AddOp(txscript.OP_CHECKSIG)
		}
		return nil
	}
	for i, key := range sortKeys(keys) {
		builder.AddData(key)
		if i == 0 {
			builder.AddOp(txscript.OP_CHECKSIG)
		} else {
			builder.AddOp(txscript.OP_CHECKSIGADD)
		}
	}
	builder.AddInt64(int64(threshold))
	if verify {
		builder.AddOp(txscript.OP_NUMEQUALVERIFY)
	} else {
		builder.AddOp(txscript.OP_NUMEQUAL)
	}
	return nil
}

func (params *Params) stakerScript() (*txscript.ScriptBuilder, error) {
	if len(params.StakerKey) != KeySize {
		return nil, errp.New("staker key missing")
	}
	builder := txscript.NewScriptBuilder()
	builder.AddData(params.StakerKey).AddOp(txscript.OP_CHECKSIGVERIFY)
	return builder, nil
}

func (params *Params) addCovenants(builder *txscript.ScriptBuilder) error {
	return errp.WithMessage(
		addMultiSig(builder, params.CovenantKeys, int(params.CovenantQuorum), false),
		"covenants")
}

// TimelockScript is spendable by the staker after Timelock blocks.
func (params *Params) TimelockScript() ([]byte, error) {
	if params.Timelock == 0 || params.Timelock > MaxTimelock {
		return nil, errp.Newf("invalid timelock %d", params.Timelock)
	}
	builder, err := params.stakerScript()
	if err != nil {
		return nil, err
	}
	builder.AddInt64(int64(params.Timelock)).AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	script, err := builder.Script()
	return script, errp.WithStack(err)
}

// UnbondingScript is spendable by the staker together with a quorum of covenants.
func (params *Params) UnbondingScript() ([]byte, error) {
	builder, err := params.stakerScript()
	if err != nil {
		return nil, err
	}
	if err := params.addCovenants(builder); err != nil {
		return nil, err
	}
	script, err := builder.Script()
	return script, errp.WithStack(err)
}

// SlashingScript is spendable by the staker together with one of the finality providers and a
// quorum of covenants.
func (params *Params) SlashingScript() ([]byte, error) {
	builder, err := params.stakerScript()
	if err != nil {
		return nil, err
	}
	if err := addMultiSig(builder, params.FinalityProviders, 1, true); err != nil {
		return nil, errp.WithMessage(err, "finality providers")
	}
	if err := params.addCovenants(builder); err != nil {
		return nil, err
	}
	script, err := builder.Script()
	return script, errp.WithStack(err)
}

func leaf(script func() ([]byte, error)) (txscript.TapLeaf, error) {
	s, err := script()
	if err != nil {
		return txscript.TapLeaf{}, err
	}
	return txscript.NewBaseTapLeaf(s), nil
}

// StakingTree is the script tree of the staking output: the slashing leaf next to a branch of the
// unbonding and timelock leaves.
func (params *Params) StakingTree() (txscript.TapNode, error) {
	slashing, err := leaf(params.SlashingScript)
	if err != nil {
		return nil, err
	}
	unbonding, err := leaf(params.UnbondingScript)
	if err != nil {
		return nil, err
	}
	timelock, err := leaf(params.TimelockScript)
	if err != nil {
		return nil, err
	}
	return txscript.NewTapBranch(slashing, txscript.NewTapBranch(unbonding, timelock)), nil
}

// UnbondingTree is the script tree of the unbonding output, with Timelock being the unbonding
// time.
func (params *Params) UnbondingTree() (txscript.TapNode, error) {
	slashing, err := leaf(params.SlashingScript)
	if err != nil {
		return nil, err
	}
	timelock, err := leaf(params.TimelockScript)
	if err != nil {
		return nil, err
	}
	return txscript.NewTapBranch(slashing, timelock), nil
}

// SlashingChangeTree is the script tree of the staker's change output of a slashing transaction,
// with Timelock being the unbonding time.
func (params *Params) SlashingChangeTree() (txscript.TapNode, error) {
	timelock, err := leaf(params.TimelockScript)
	if err != nil {
		return nil, err
	}
	return timelock, nil
}

// OutputKey is the taproot output key committing to tree with the unspendable internal key.
func OutputKey(tree txscript.TapNode) *btcec.PublicKey {
	root := tree.TapHash()
	return txscript.ComputeTaprootOutputKey(unspendableKey, root[:])
}

// PkScript is the P2TR script of the output committing to tree.
func PkScript(tree txscript.TapNode) ([]byte, error) {
	script, err := txscript.PayToTaprootScript(OutputKey(tree))
	return script, errp.WithStack(err)
}
