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
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

var bip322Tag = []byte("BIP0322-signed-message")

// MessageToSign is the BIP-322 message hash of a Babylon message. The message bytes are signed in
// their bech32 encoding with the Babylon prefix, which is also how the device displays them.
func MessageToSign(message []byte) (*chainhash.Hash, error) {
	encoded, err := encodeBech32(BabylonHRP, message)
	if err != nil {
		return nil, err
	}
	return chainhash.TaggedHash(bip322Tag, []byte(encoded)), nil
}

// ToSpendTx builds the virtual BIP-322 transaction committing to msgHash and paying to pkScript.
func ToSpendTx(msgHash *chainhash.Hash, pkScript []byte) (*wire.MsgTx, error) {
	signatureScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(msgHash[:]).
		Script()
	if err != nil {
		return nil, errp.WithStack(err)
	}
	tx := wire.NewMsgTx(0)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript:  signatureScript,
		Sequence:         0,
	})
	tx.AddTxOut(wire.NewTxOut(0, pkScript))
	return tx, nil
}

// ToSpendTxID returns the id of the virtual transaction spent by the BIP-322 signature of
// message. This is the txid the to_sign PSBT has to reference.
func ToSpendTxID(message []byte, pkScript []byte) (*chainhash.Hash, error) {
	msgHash, err := MessageToSign(message)
	if err != nil {
		return nil, err
	}
	tx, err := ToSpendTx(msgHash, pkScript)
	if err != nil {
		return nil, err
	}
	txID := tx.TxHash()
	return &txID, nil
}
