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

// Package scp implements the Ledger secure channel: the handshake authenticating the host against
// the device's deployed secret, and the encrypted channel that loader commands are wrapped in.
package scp

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

const (
	blockSize = aes.BlockSize
	keySize   = 16
	// macSize is the number of trailing CBC-MAC bytes appended to each v3 message.
	macSize = 14
	padByte = 0x80
)

// ErrDecryption is returned when a response fails its integrity check or does not decrypt to a
// correctly padded message. The channel is out of sync afterwards.
var ErrDecryption = errp.New("secure channel: decryption failed")

// Channel wraps and unwraps loader payloads. The IVs chain across calls in both directions, so
// every wrapped command must be followed by unwrapping its response, in order.
type Channel struct {
	version int
	encKey  []byte
	encIV   []byte
	// Unused in version 2.
	macKey []byte
	macIV  []byte
}

// NewChannel creates the channel for a secret established by the handshake. version is the SCP
// version of the target.
func NewChannel(secret []byte, version int) (*Channel, error) {
	if len(secret) < keySize {
		return nil, errp.Newf("secret too short: %d bytes", len(secret))
	}
	switch {
	case version == 2:
		return &Channel{
			version: 2,
			encKey:  bytes.Clone(secret[:keySize]),
			encIV:   make([]byte, blockSize),
		}, nil
	case version >= 3:
		encKey, err := DeriveKey(secret, 0)
		if err != nil {
			return nil, err
		}
		macKey, err := DeriveKey(secret, 1)
		if err != nil {
			return nil, err
		}
		return &Channel{
			version: 3,
			encKey:  encKey,
			encIV:   make([]byte, blockSize),
			macKey:  macKey,
			macIV:   make([]byte, blockSize),
		}, nil
	default:
		return nil, errp.Newf("unsupported secure channel version %d", version)
	}
}

// Version returns 2 for the legacy channel and 3 for the MAC protected one.
func (channel *Channel) Version() int {
	return channel.version
}

// DeriveKey derives the 16 byte channel key with the given index from the shared secret. The
// candidate scalar is rehashed with an increasing retry counter until it is a valid private key.
func DeriveKey(secret []byte, index uint32) ([]byte, error) {
	for retry := 0; retry < 256; retry++ {
		var prefix [5]byte
		binary.BigEndian.PutUint32(prefix[:4], index)
		prefix[4] = byte(retry)
		h := sha256.New()
		h.Write(prefix[:])
		h.Write(secret)
		digest := h.Sum(nil)

		var scalar btcec.ModNScalar
		if overflow := scalar.SetByteSlice(digest); overflow || scalar.IsZero() {
			continue
		}
		_, pub := btcec.PrivKeyFromBytes(digest)
		key := sha256.Sum256(pub.SerializeUncompressed())
		return key[:keySize], nil
	}
	return nil, errp.New("could not derive key")
}

func pad(data []byte) []byte {
	padded := make([]byte, 0, (len(data)/blockSize+1)*blockSize)
	padded = append(padded, data...)
	padded = append(padded, padByte)
	for len(padded)%blockSize != 0 {
		padded = append(padded, 0)
	}
	return padded
}

func unpad(data []byte) ([]byte, error) {
	i := len(data) - 1
	for i >= 0 && data[i] == 0 {
		i--
	}
	if i < 0 || data[i] != padByte || len(data)-i > blockSize {
		return nil, errp.WithMessage(ErrDecryption, "invalid padding")
	}
	return data[:i], nil
}

// cbc encrypts data, which must be block aligned, and returns the ciphertext. iv is updated in
// place to the last ciphertext block.
func cbc(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errp.WithStack(err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	copy(iv, out[len(out)-blockSize:])
	return out, nil
}

func cbcDecrypt(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errp.WithStack(err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, bytes.Clone(iv)).CryptBlocks(out, data)
	copy(iv, data[len(data)-blockSize:])
	return out, nil
}

// Wrap encrypts a command payload. An empty payload is sent as is.
func (channel *Channel) Wrap(data []byte) ([]byte, error) {
	if channel.encKey == nil {
		return nil, errp.New("secure channel closed")
	}
	if len(data) == 0 {
		return data, nil
	}
	encrypted, err := cbc(channel.encKey, channel.encIV, pad(data))
	if err != nil {
		return nil, err
	}
	if channel.version == 2 {
		return encrypted, nil
	}
	if _, err := cbc(channel.macKey, channel.macIV, encrypted); err != nil {
		return nil, err
	}
	return append(encrypted, channel.macIV[blockSize-macSize:]...), nil
}

// Unwrap checks and decrypts a response payload. Empty responses and bare status words are
// returned as is.
func (channel *Channel) Unwrap(data []byte) ([]byte, error) {
	if channel.encKey == nil {
		return nil, errp.New("secure channel closed")
	}
	if len(data) == 0 || len(data) == 2 {
		return data, nil
	}
	if channel.version == 3 {
		if len(data) < macSize+blockSize {
			return nil, errp.WithMessage(ErrDecryption, "response too short")
		}
		mac := data[len(data)-macSize:]
		data = data[:len(data)-macSize]
		if len(data)%blockSize != 0 {
			return nil, errp.WithMessage(ErrDecryption, "response not block aligned")
		}
		if _, err := cbc(channel.macKey, channel.macIV, data); err != nil {
			return nil, err
		}
		if subtle.ConstantTimeCompare(mac, channel.macIV[blockSize-macSize:]) != 1 {
			return nil, errp.WithMessage(ErrDecryption, "invalid mac")
		}
	} else if len(data)%blockSize != 0 {
		return nil, errp.WithMessage(ErrDecryption, "response not block aligned")
	}
	decrypted, err := cbcDecrypt(channel.encKey, channel.encIV, data)
	if err != nil {
		return nil, err
	}
	return unpad(decrypted)
}

// Close wipes the key material. The channel cannot be used afterwards.
func (channel *Channel) Close() {
	for _, b := range [][]byte{channel.encKey, channel.encIV, channel.macKey, channel.macIV} {
		clear(b)
	}
	channel.encKey, channel.macKey = nil, nil
}
