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

package scp_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
	"github.com/tomo-inc/app-btcext-boilerplate/api/common"
	"github.com/tomo-inc/app-btcext-boilerplate/api/mocks"
	"github.com/tomo-inc/app-btcext-boilerplate/api/scp"
	"github.com/tomo-inc/app-btcext-boilerplate/communication/apdu"
)

func newSigner(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	signer, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return signer
}

func TestHandshake(t *testing.T) {
	for _, target := range []common.TargetID{
		common.TargetFlex,
		common.TargetNanoS14,
		common.TargetNanoSUpTo131,
	} {
		target := target
		t.Run(target.String(), func(t *testing.T) {
			device := mocks.NewDevice(target)
			logger := &mocks.Logger{}
			signer := newSigner(t)
			handshake := scp.NewHandshake(device, target, signer, logger)
			handshake.TstSetRand(bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8}))

			session, err := handshake.Run()
			require.NoError(t, err)
			require.Len(t, session.Secret, 32)
			require.Equal(t, []byte{0, 0, 0, 1}, session.BatchSignerSerial)
			require.Equal(t, device.Key.PubKey().SerializeUncompressed(), session.DevicePublicKey)
			require.NotNil(t, device.Channel)
			// The device certificate is issued by the manufacturer, not by our signer.
			require.Equal(t, []string{"device certificate not signed by host signer"}, logger.Infos)

			require.Equal(t, "e0040000", hexPrefix(device.Requests[0], 4))
			require.Equal(t, "e050000008", hexPrefix(device.Requests[1], 5))
			require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, device.Requests[1][5:])
			require.Equal(t, "e0510000", hexPrefix(device.Requests[2], 4))
			require.Equal(t, "e0518000", hexPrefix(device.Requests[3], 4))
			require.Equal(t, "e052000000", hexPrefix(device.Requests[4], 5))
			require.Equal(t, "e052800000", hexPrefix(device.Requests[5], 5))
			require.Equal(t, "e053000000", hexPrefix(device.Requests[6], 5))

			// Both ends hold the same channel.
			channel, err := scp.NewChannel(session.Secret, target.SCPVersion())
			require.NoError(t, err)
			wrapped, err := channel.Wrap([]byte("ping"))
			require.NoError(t, err)
			unwrapped, err := device.Channel.Unwrap(wrapped)
			require.NoError(t, err)
			require.Equal(t, []byte("ping"), unwrapped)
		})
	}
}

func TestHandshakeIssuedBySigner(t *testing.T) {
	device := mocks.NewDevice(common.TargetStax)
	signer := newSigner(t)
	device.Issuer = signer
	logger := &mocks.Logger{}
	_, err := scp.NewHandshake(device, common.TargetStax, signer, logger).Run()
	require.NoError(t, err)
	require.Empty(t, logger.Infos)
}

func TestHandshakeBrokenChain(t *testing.T) {
	device := mocks.NewDevice(common.TargetFlex)
	device.BreakChain = true
	_, err := scp.NewHandshake(device, common.TargetFlex, newSigner(t), &mocks.Logger{}).Run()
	var authErr *scp.AuthenticationError
	require.True(t, errors.As(err, &authErr))
	require.Nil(t, device.Channel)
}

func TestHandshakeTargetRejected(t *testing.T) {
	device := mocks.NewDevice(common.TargetFlex)
	_, err := scp.NewHandshake(device, common.TargetStax, newSigner(t), &mocks.Logger{}).Run()
	var statusErr apdu.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, apdu.StatusError(0x6a84), statusErr)
	require.Len(t, device.Requests, 1)
}

func TestHandshakeUnsupportedTarget(t *testing.T) {
	device := mocks.NewDevice(0x31100001)
	_, err := scp.NewHandshake(device, 0x31100001, newSigner(t), &mocks.Logger{}).Run()
	require.Error(t, err)
	require.Empty(t, device.Requests)
}

func TestHandshakeTransportError(t *testing.T) {
	expectedErr := errors.New("unplugged")
	communication := &mocks.Communication{
		MockQuery: func([]byte) ([]byte, error) { return nil, expectedErr },
	}
	_, err := scp.NewHandshake(communication, common.TargetFlex, newSigner(t), &mocks.Logger{}).Run()
	require.ErrorIs(t, err, expectedErr)
}

func TestHandshakeShortAuthInfo(t *testing.T) {
	communication := &mocks.Communication{
		MockQuery: func(msg []byte) ([]byte, error) {
			if msg[1] == 0x50 {
				return []byte{0, 0, 0, 1, 0x90, 0x00}, nil
			}
			return []byte{0x90, 0x00}, nil
		},
	}
	_, err := scp.NewHandshake(communication, common.TargetFlex, newSigner(t), &mocks.Logger{}).Run()
	require.Error(t, err)
}

func TestCertificate(t *testing.T) {
	certificate := &scp.Certificate{
		Header:    []byte{0xaa},
		PublicKey: []byte{0x04, 0x05},
		Signature: []byte{0x30},
	}
	encoded, err := certificate.Encode(true)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 0xaa, 2, 0x04, 0x05, 1, 0x30}, encoded)
	parsed, err := scp.ParseCertificate(encoded)
	require.NoError(t, err)
	require.Equal(t, certificate, parsed)

	encoded, err = certificate.Encode(false)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 0x04, 0x05, 1, 0x30}, encoded)

	_, err = scp.ParseCertificate([]byte{5, 1, 2})
	require.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	key := newSigner(t)
	publicKey := key.PubKey().SerializeUncompressed()
	signature := scp.Sign(key, []byte{0x01}, publicKey)
	require.True(t, scp.Verify(publicKey, signature, []byte{0x01}, publicKey))
	require.True(t, scp.Verify(publicKey, signature, append([]byte{0x01}, publicKey...)))
	require.False(t, scp.Verify(publicKey, signature, []byte{0x02}, publicKey))
	require.False(t, scp.Verify([]byte{0x04}, signature, []byte{0x01}, publicKey))
	require.False(t, scp.Verify(publicKey, []byte{0x30, 0x00}, []byte{0x01}, publicKey))
}
