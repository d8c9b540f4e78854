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

package mocks

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/tomo-inc/app-btcext-boilerplate/api/common"
	"github.com/tomo-inc/app-btcext-boilerplate/api/scp"
	"github.com/tomo-inc/app-btcext-boilerplate/communication/apdu"
)

// Device simulates the BOLOS side of a Ledger: identification, the secure channel handshake and
// the encrypted loader commands. It implements apdu.Communication.
type Device struct {
	Target common.TargetID
	// Issuer signs the device certificate. The handshake only verifies it if it is the host's
	// signer.
	Issuer *btcec.PrivateKey
	// Key is the device key, signing the ephemeral device certificate.
	Key *btcec.PrivateKey
	// BreakChain makes the ephemeral device certificate carry an invalid signature.
	BreakChain bool
	// OnLoaderCommand handles a decrypted loader command and returns the plaintext response and
	// status word.
	OnLoaderCommand func(payload []byte) ([]byte, uint16)

	// Requests records every raw APDU received.
	Requests [][]byte
	Closed   bool
	// Channel is the device end of the secure channel, set after mutual authentication.
	Channel *scp.Channel

	hostNonce    []byte
	deviceNonce  []byte
	signerPublic []byte
	hostPublic   []byte
	ephemeral    *btcec.PrivateKey
}

// NewDevice creates a device of the given target with fresh keys.
func NewDevice(target common.TargetID) *Device {
	issuer, err := btcec.NewPrivateKey()
	if err != nil {
		panic(err)
	}
	key, err := btcec.NewPrivateKey()
	if err != nil {
		panic(err)
	}
	return &Device{Target: target, Issuer: issuer, Key: key}
}

func status(data []byte, sw uint16) []byte {
	return binary.BigEndian.AppendUint16(bytes.Clone(data), sw)
}

func parseHostCertificate(data []byte) (publicKey, signature []byte, ok bool) {
	if len(data) < 1 || len(data) < 1+int(data[0])+1 {
		return nil, nil, false
	}
	publicKey = data[1 : 1+data[0]]
	rest := data[1+data[0]:]
	if len(rest) != 1+int(rest[0]) {
		return nil, nil, false
	}
	return publicKey, rest[1:], true
}

// Query implements apdu.Communication.
func (device *Device) Query(request []byte) ([]byte, error) {
	device.Requests = append(device.Requests, bytes.Clone(request))
	if len(request) < 5 || len(request) != 5+int(request[4]) {
		return status(nil, 0x6700), nil
	}
	cla, ins, p1, data := request[0], request[1], request[2], request[5:]
	if cla != 0xe0 {
		return status(nil, 0x6e00), nil
	}
	switch ins {
	case 0x01:
		version := binary.BigEndian.AppendUint32(nil, uint32(device.Target))
		return status(append(version, 0x05, '2', '.', '1', '.', '0'), apdu.SWOK), nil
	case 0x04:
		if !bytes.Equal(data, binary.BigEndian.AppendUint32(nil, uint32(device.Target))) {
			return status(nil, 0x6a84), nil
		}
		return status(nil, apdu.SWOK), nil
	case 0x50:
		device.hostNonce = bytes.Clone(data)
		device.deviceNonce = make([]byte, 8)
		if _, err := rand.Read(device.deviceNonce); err != nil {
			return nil, err
		}
		return status(append([]byte{0, 0, 0, 1}, device.deviceNonce...), apdu.SWOK), nil
	case 0x51:
		publicKey, signature, ok := parseHostCertificate(data)
		if !ok {
			return status(nil, 0x6a80), nil
		}
		if p1 == 0 {
			if !scp.Verify(publicKey, signature, []byte{0x01}, publicKey) {
				return status(nil, 0x6a80), nil
			}
			device.signerPublic = bytes.Clone(publicKey)
			return status(nil, apdu.SWOK), nil
		}
		if !scp.Verify(device.signerPublic, signature,
			[]byte{0x11}, device.hostNonce, device.deviceNonce, publicKey) {
			return status(nil, 0x6a80), nil
		}
		device.hostPublic = bytes.Clone(publicKey)
		return status(nil, apdu.SWOK), nil
	case 0x52:
		return device.certificate(p1)
	case 0x53:
		if device.ephemeral == nil || device.hostPublic == nil {
			return status(nil, 0x6985), nil
		}
		secret, err := scp.SharedSecret(device.ephemeral, device.hostPublic)
		if err != nil {
			return nil, err
		}
		channel, err := scp.NewChannel(secret, device.Target.SCPVersion())
		if err != nil {
			return nil, err
		}
		device.Channel = channel
		return status(nil, apdu.SWOK), nil
	case 0x00:
		if device.Channel == nil {
			return status(nil, 0x6985), nil
		}
		payload, err := device.Channel.Unwrap(data)
		if err != nil {
			return status(nil, 0x6a80), nil
		}
		var response []byte
		sw := apdu.SWOK
		if device.OnLoaderCommand != nil {
			response, sw = device.OnLoaderCommand(payload)
		}
		if sw != apdu.SWOK {
			return status(nil, sw), nil
		}
		wrapped, err := device.Channel.Wrap(response)
		if err != nil {
			return nil, err
		}
		return status(wrapped, sw), nil
	default:
		return status(nil, 0x6d00), nil
	}
}

func (device *Device) certificate(p1 byte) ([]byte, error) {
	var certificate *scp.Certificate
	if p1 == 0 {
		header := []byte{0x01, 0x02, 0x03, 0x04}
		publicKey := device.Key.PubKey().SerializeUncompressed()
		certificate = &scp.Certificate{
			Header:    header,
			PublicKey: publicKey,
			Signature: scp.Sign(device.Issuer, []byte{0x02}, header, publicKey),
		}
	} else {
		ephemeral, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, err
		}
		device.ephemeral = ephemeral
		publicKey := ephemeral.PubKey().SerializeUncompressed()
		signer := device.Key
		if device.BreakChain {
			signer = device.Issuer
		}
		certificate = &scp.Certificate{
			PublicKey: publicKey,
			Signature: scp.Sign(signer, []byte{0x12}, device.deviceNonce, device.hostNonce, publicKey),
		}
	}
	encoded, err := certificate.Encode(true)
	if err != nil {
		return nil, err
	}
	return status(encoded, apdu.SWOK), nil
}

// Close implements apdu.Communication.
func (device *Device) Close() {
	device.Closed = true
}
