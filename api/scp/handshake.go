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

package scp

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/tomo-inc/app-btcext-boilerplate/api/common"
	"github.com/tomo-inc/app-btcext-boilerplate/communication/apdu"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
	"golang.org/x/crypto/cryptobyte"
)

const (
	claBolos = 0xe0

	insValidateTargetID              = 0x04
	insInitializeAuthentication      = 0x50
	insValidateCertificate           = 0x51
	insGetCertificate                = 0x52
	insMutualAuthenticate            = 0x53
	p1Last                      byte = 0x80

	// Roles prefixed to the signed data of each certificate.
	roleSignerSelf      = 0x01
	roleSignerDevice    = 0x02
	roleHostEphemeral   = 0x11
	roleDeviceEphemeral = 0x12

	nonceSize = 8
)

// AuthenticationError is returned when the device's certificate chain does not verify.
type AuthenticationError struct {
	Reason string
}

// Error implements error.
func (e *AuthenticationError) Error() string {
	return "secure channel authentication failed: " + e.Reason
}

// Session is the result of a successful handshake.
type Session struct {
	// Secret is the SHA-256 of the compressed ECDH point shared with the device.
	Secret []byte
	// DevicePublicKey is the public key of the device's first certificate.
	DevicePublicKey []byte
	// BatchSignerSerial identifies the batch the device was issued in.
	BatchSignerSerial []byte
}

// Certificate is a certificate as returned by GET_CERTIFICATE. Header is empty for the ephemeral
// device certificate.
type Certificate struct {
	Header    []byte
	PublicKey []byte
	Signature []byte
}

// ParseCertificate parses a length prefixed header, public key and DER signature.
func ParseCertificate(data []byte) (*Certificate, error) {
	var header, publicKey, signature cryptobyte.String
	input := cryptobyte.String(data)
	if !input.ReadUint8LengthPrefixed(&header) ||
		!input.ReadUint8LengthPrefixed(&publicKey) ||
		!input.ReadUint8LengthPrefixed(&signature) {
		return nil, errp.New("malformed certificate")
	}
	return &Certificate{
		Header:    bytes.Clone(header),
		PublicKey: bytes.Clone(publicKey),
		Signature: bytes.Clone(signature),
	}, nil
}

// Encode serializes the certificate. A certificate without header is encoded as public key and
// signature only, which is the format VALIDATE_CERTIFICATE expects.
func (certificate *Certificate) Encode(withHeader bool) ([]byte, error) {
	var b cryptobyte.Builder
	addPrefixed := func(data []byte) {
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(data) })
	}
	if withHeader {
		addPrefixed(certificate.Header)
	}
	addPrefixed(certificate.PublicKey)
	addPrefixed(certificate.Signature)
	encoded, err := b.Bytes()
	return encoded, errp.WithStack(err)
}

func signedHash(parts ...[]byte) []byte {
	h := sha256.New()
	for _, part := range parts {
		h.Write(part)
	}
	return h.Sum(nil)
}

// Sign creates a DER ECDSA signature over the SHA-256 of the concatenated parts.
func Sign(key *btcec.PrivateKey, parts ...[]byte) []byte {
	return ecdsa.Sign(key, signedHash(parts...)).Serialize()
}

// Verify checks a DER ECDSA signature over the SHA-256 of the concatenated parts.
func Verify(publicKey []byte, signature []byte, parts ...[]byte) bool {
	pub, err := btcec.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(signedHash(parts...), pub)
}

// SharedSecret computes the SHA-256 of the compressed point privateKey * publicKey.
func SharedSecret(privateKey *btcec.PrivateKey, publicKey []byte) ([]byte, error) {
	pub, err := btcec.ParsePubKey(publicKey)
	if err != nil {
		return nil, errp.WithStack(err)
	}
	var point, result btcec.JacobianPoint
	pub.AsJacobian(&point)
	btcec.ScalarMultNonConst(&privateKey.Key, &point, &result)
	result.ToAffine()
	shared := btcec.NewPublicKey(&result.X, &result.Y).SerializeCompressed()
	secret := sha256.Sum256(shared)
	return secret[:], nil
}

// Handshake authenticates the host against the deployed secret of a device and derives the
// channel secret.
type Handshake struct {
	comm   apdu.Communication
	target common.TargetID
	// signer is the key the host certificate chain starts from.
	signer *btcec.PrivateKey
	logger common.Logger
	rand   io.Reader
}

// NewHandshake creates a new Handshake. signer is both the root of the host certificate chain and
// the key the operator verifies on the device screen.
func NewHandshake(
	comm apdu.Communication,
	target common.TargetID,
	signer *btcec.PrivateKey,
	logger common.Logger,
) *Handshake {
	return &Handshake{
		comm:   comm,
		target: target,
		signer: signer,
		logger: logger,
		rand:   rand.Reader,
	}
}

// TstSetRand overrides the nonce source. For testing only.
func (handshake *Handshake) TstSetRand(r io.Reader) {
	handshake.rand = r
}

func (handshake *Handshake) transmit(ins, p1 byte, data []byte) ([]byte, error) {
	return apdu.Transmit(handshake.comm, apdu.Command{CLA: claBolos, INS: ins, P1: p1, Data: data})
}

// Run performs the handshake. Any error leaves the device in an unauthenticated state.
func (handshake *Handshake) Run() (*Session, error) {
	if handshake.target.SCPVersion() < 2 {
		return nil, errp.Newf("target %s does not support a secure channel", handshake.target)
	}

	targetID := binary.BigEndian.AppendUint32(nil, uint32(handshake.target))
	if _, err := handshake.transmit(insValidateTargetID, 0, targetID); err != nil {
		return nil, errp.WithMessage(err, "target id rejected")
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(handshake.rand, nonce); err != nil {
		return nil, errp.WithStack(err)
	}
	authInfo, err := handshake.transmit(insInitializeAuthentication, 0, nonce)
	if err != nil {
		return nil, errp.WithMessage(err, "initialize authentication")
	}
	if len(authInfo) < 4+nonceSize {
		return nil, errp.Newf("authentication info too short: %d bytes", len(authInfo))
	}
	batchSignerSerial := bytes.Clone(authInfo[:4])
	deviceNonce := bytes.Clone(authInfo[4 : 4+nonceSize])
	handshake.logger.Debug("batch signer serial " + hex.EncodeToString(batchSignerSerial))

	signerPublic := handshake.signer.PubKey().SerializeUncompressed()
	signerCertificate := &Certificate{
		PublicKey: signerPublic,
		Signature: Sign(handshake.signer, []byte{roleSignerSelf}, signerPublic),
	}
	if err := handshake.validateCertificate(0, signerCertificate); err != nil {
		return nil, err
	}

	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errp.WithStack(err)
	}
	ephemeralPublic := ephemeral.PubKey().SerializeUncompressed()
	ephemeralCertificate := &Certificate{
		PublicKey: ephemeralPublic,
		Signature: Sign(handshake.signer,
			[]byte{roleHostEphemeral}, nonce, deviceNonce, ephemeralPublic),
	}
	if err := handshake.validateCertificate(p1Last, ephemeralCertificate); err != nil {
		return nil, err
	}

	lastPublic := signerPublic
	var devicePublicKey []byte
	for index, p1 := range []byte{0, p1Last} {
		response, err := handshake.transmit(insGetCertificate, p1, nil)
		if err != nil {
			return nil, errp.WithMessage(err, "get certificate")
		}
		if len(response) == 0 {
			break
		}
		certificate, err := ParseCertificate(response)
		if err != nil {
			return nil, err
		}
		if index == 0 {
			devicePublicKey = certificate.PublicKey
			if !Verify(lastPublic, certificate.Signature,
				[]byte{roleSignerDevice}, certificate.Header, certificate.PublicKey) {
				// The device is not issued by our signer, e.g. the app was loaded with a
				// custom key. The ephemeral certificate below still has to chain to it.
				handshake.logger.Info("device certificate not signed by host signer")
			}
		} else if !Verify(lastPublic, certificate.Signature,
			[]byte{roleDeviceEphemeral}, deviceNonce, nonce, certificate.PublicKey) {
			return nil, errp.WithStack(&AuthenticationError{Reason: "broken certificate chain"})
		}
		lastPublic = certificate.PublicKey
	}

	if _, err := handshake.transmit(insMutualAuthenticate, 0, nil); err != nil {
		return nil, errp.WithMessage(err, "mutual authentication")
	}

	secret, err := SharedSecret(ephemeral, lastPublic)
	if err != nil {
		return nil, err
	}
	return &Session{
		Secret:            secret,
		DevicePublicKey:   devicePublicKey,
		BatchSignerSerial: batchSignerSerial,
	}, nil
}

func (handshake *Handshake) validateCertificate(p1 byte, certificate *Certificate) error {
	encoded, err := certificate.Encode(false)
	if err != nil {
		return err
	}
	if _, err := handshake.transmit(insValidateCertificate, p1, encoded); err != nil {
		return errp.WithMessage(err, "certificate rejected")
	}
	return nil
}
