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

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

// prevOutFetcher collects the witness UTXOs of all inputs.
func prevOutFetcher(packet *psbt.Packet) (*txscript.MultiPrevOutFetcher, error) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for index, txIn := range packet.UnsignedTx.TxIn {
		utxo := packet.Inputs[index].WitnessUtxo
		if utxo == nil {
			return nil, errp.Newf("input %d has no witness utxo", index)
		}
		fetcher.AddPrevOut(txIn.PreviousOutPoint, utxo)
	}
	return fetcher, nil
}

// TapscriptSighash computes the BIP-341 signature hash for spending input inputIndex by the leaf
// script.
func TapscriptSighash(
	packet *psbt.Packet, inputIndex int, leafScript []byte, hashType txscript.SigHashType,
) ([]byte, error) {
	if inputIndex < 0 || inputIndex >= len(packet.UnsignedTx.TxIn) {
		return nil, errp.Newf("input %d out of range", inputIndex)
	}
	fetcher, err := prevOutFetcher(packet)
	if err != nil {
		return nil, err
	}
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)
	hash, err := txscript.CalcTapscriptSignaturehash(
		sigHashes, hashType, packet.UnsignedTx, inputIndex, fetcher,
		txscript.NewBaseTapLeaf(leafScript))
	return hash, errp.WithStack(err)
}

// VerifyTapscriptSignature verifies a BIP-340 signature of the x-only publicKey spending input
// inputIndex by the leaf script. signature is 64 bytes, or 65 with an explicit sighash type.
func VerifyTapscriptSignature(
	packet *psbt.Packet, inputIndex int, leafScript []byte, publicKey []byte, signature []byte,
) error {
	hashType := txscript.SigHashDefault
	switch len(signature) {
	case schnorr.SignatureSize:
	case schnorr.SignatureSize + 1:
		hashType = txscript.SigHashType(signature[schnorr.SignatureSize])
		if hashType == txscript.SigHashDefault {
			return errp.New("explicit default sighash type")
		}
		signature = signature[:schnorr.SignatureSize]
	default:
		return errp.Newf("invalid signature size %d", len(signature))
	}
	key, err := schnorr.ParsePubKey(publicKey)
	if err != nil {
		return errp.WithStack(err)
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return errp.WithStack(err)
	}
	hash, err := TapscriptSighash(packet, inputIndex, leafScript, hashType)
	if err != nil {
		return err
	}
	if !sig.Verify(hash, key) {
		return errp.New("invalid signature")
	}
	return nil
}

// Fee returns the difference of the input and output amounts.
func Fee(packet *psbt.Packet) (btcutil.Amount, error) {
	var in, out int64
	for index := range packet.UnsignedTx.TxIn {
		utxo := packet.Inputs[index].WitnessUtxo
		if utxo == nil {
			return 0, errp.Newf("input %d has no witness utxo", index)
		}
		in += utxo.Value
	}
	for _, txOut := range packet.UnsignedTx.TxOut {
		out += txOut.Value
	}
	if out > in {
		return 0, errp.Newf("outputs %d exceed inputs %d", out, in)
	}
	return btcutil.Amount(in - out), nil
}

func checkOutput(tx *wire.MsgTx, index int, tree txscript.TapNode, what string) error {
	if index >= len(tx.TxOut) {
		return errp.Newf("%s output %d missing", what, index)
	}
	pkScript, err := PkScript(tree)
	if err != nil {
		return err
	}
	if !bytes.Equal(tx.TxOut[index].PkScript, pkScript) {
		return errp.Newf("output %d is not the %s output", index, what)
	}
	return nil
}

// CheckStakingOutput checks that the first output of tx is the staking output.
func (params *Params) CheckStakingOutput(tx *wire.MsgTx) error {
	tree, err := params.StakingTree()
	if err != nil {
		return err
	}
	return checkOutput(tx, 0, tree, "staking")
}

// CheckUnbondingOutput checks that the first output of tx is the unbonding output.
func (params *Params) CheckUnbondingOutput(tx *wire.MsgTx) error {
	tree, err := params.UnbondingTree()
	if err != nil {
		return err
	}
	return checkOutput(tx, 0, tree, "unbonding")
}

// CheckSlashingOutputs checks that tx pays the slashed amount to burnScript and the change to the
// staker, in this order.
func (params *Params) CheckSlashingOutputs(tx *wire.MsgTx, burnScript []byte) error {
	if len(tx.TxOut) < 2 {
		return errp.Newf("slashing transaction has %d outputs", len(tx.TxOut))
	}
	if !bytes.Equal(tx.TxOut[0].PkScript, burnScript) {
		return errp.New("output 0 does not pay to the burn script")
	}
	tree, err := params.SlashingChangeTree()
	if err != nil {
		return err
	}
	return checkOutput(tx, 1, tree, "slashing change")
}
