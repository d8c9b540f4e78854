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
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

// BabylonHRP is the human readable part of Babylon chain addresses.
const BabylonHRP = "bbn"

// TaprootAddress returns the address of the output committing to tree.
func TaprootAddress(tree txscript.TapNode, net *chaincfg.Params) (*btcutil.AddressTaproot, error) {
	address, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(OutputKey(tree)), net)
	return address, errp.WithStack(err)
}

// StakingAddress returns the address of the staking output.
func (params *Params) StakingAddress(net *chaincfg.Params) (*btcutil.AddressTaproot, error) {
	tree, err := params.StakingTree()
	if err != nil {
		return nil, err
	}
	return TaprootAddress(tree, net)
}

// encodeBech32 converts data to 5 bit groups and encodes it with hrp.
func encodeBech32(hrp string, data []byte) (string, error) {
	converted, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", errp.WithStack(err)
	}
	encoded, err := bech32.Encode(hrp, converted)
	return encoded, errp.WithStack(err)
}

// BabylonAddress returns the Babylon chain address of a public key: the bech32 encoded hash160
// of the compressed key.
func BabylonAddress(publicKey *btcec.PublicKey) (string, error) {
	return encodeBech32(BabylonHRP, btcutil.Hash160(publicKey.SerializeCompressed()))
}
