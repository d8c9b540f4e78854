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

// Package installer drives a single management session with a Ledger device: identification,
// secure channel authentication and the encrypted loader commands.
package installer

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/tomo-inc/app-btcext-boilerplate/api/common"
	"github.com/tomo-inc/app-btcext-boilerplate/api/loader"
	"github.com/tomo-inc/app-btcext-boilerplate/api/scp"
	"github.com/tomo-inc/app-btcext-boilerplate/communication/apdu"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

// State of a Session.
type State int

const (
	// StateDisconnected is the initial state; the device has not been identified yet.
	StateDisconnected State = iota
	// StateIdentified means the target id resolved to a known device.
	StateIdentified
	// StateAuthenticated means the secure channel is up and loader commands can be sent.
	StateAuthenticated
	// StateClosed is final.
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateDisconnected:
		return "disconnected"
	case StateIdentified:
		return "identified"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(state))
	}
}

const (
	insGetVersion = 0x01

	promptDelete  = "Deleting the existing app, please confirm on the device"
	promptInstall = "Installing the app, please confirm on the device"
	promptPIN     = "Enter the PIN code on the device to finish the installation"
)

// Identity is the result of identifying the device.
type Identity struct {
	Target common.TargetID
	Device common.Device
}

// Session is one management session with one device. It owns the communication, which is closed
// with the session. Not safe for concurrent use.
type Session struct {
	communication   apdu.Communication
	operator        Operator
	logger          common.Logger
	channelLogger   common.Logger
	loaderLogger    common.Logger
	onStatusChanged func(*loader.Status)

	state    State
	identity *Identity
	channel  *scp.Channel
	loader   *loader.Loader

	// newKey is overridden in tests.
	newKey func() (*btcec.PrivateKey, error)
}

// NewSession creates a new session. onStatusChanged is passed on to the loader and may be nil.
func NewSession(
	communication apdu.Communication,
	operator Operator,
	logger common.Logger,
	onStatusChanged func(*loader.Status),
) *Session {
	return &Session{
		communication:   communication,
		operator:        operator,
		logger:          logger,
		channelLogger:   logger,
		loaderLogger:    logger,
		onStatusChanged: onStatusChanged,
		state:           StateDisconnected,
		newKey:          btcec.NewPrivateKey,
	}
}

// SetLoggers sets separate loggers for the handshake and the loader commands. nil keeps the
// session logger.
func (session *Session) SetLoggers(channel, loader common.Logger) {
	if channel != nil {
		session.channelLogger = channel
	}
	if loader != nil {
		session.loaderLogger = loader
	}
}

// State returns the current state.
func (session *Session) State() State {
	return session.state
}

// Identity returns the device identity, or nil if the device was not identified yet.
func (session *Session) Identity() *Identity {
	return session.identity
}

func (session *Session) require(op string, state State) error {
	if session.state != state {
		return errp.WithStack(&StateError{Op: op, State: session.state})
	}
	return nil
}

// fail closes the session and classifies err.
func (session *Session) fail(err error) error {
	session.Close()
	return classify(err)
}

// Identify requests the version of the device and resolves its target id.
func (session *Session) Identify() (*Identity, error) {
	if err := session.require("identify", StateDisconnected); err != nil {
		return nil, err
	}
	response, err := apdu.Transmit(session.communication, apdu.Command{CLA: 0xe0, INS: insGetVersion})
	if err != nil {
		return nil, session.fail(errp.WithMessage(err, "get version"))
	}
	if len(response) < 4 {
		return nil, session.fail(errp.WithStack(&UnknownDeviceError{Response: response}))
	}
	target := common.TargetID(binary.BigEndian.Uint32(response[:4]))
	device, ok := target.Device()
	if !ok {
		return nil, session.fail(errp.WithStack(&UnknownDeviceError{TargetID: target, Response: response}))
	}
	session.logger.Info(fmt.Sprintf("identified %s (target id %s)", device.Name, target))
	session.identity = &Identity{Target: target, Device: device}
	session.state = StateIdentified
	return session.identity, nil
}

// Authenticate generates an ephemeral key, has the operator confirm it and runs the secure
// channel handshake.
func (session *Session) Authenticate() error {
	if err := session.require("authenticate", StateIdentified); err != nil {
		return err
	}
	key, err := session.newKey()
	if err != nil {
		return session.fail(errp.WithStack(err))
	}
	publicKey := hex.EncodeToString(key.PubKey().SerializeUncompressed())
	if err := session.operator.ConfirmPublicKey(publicKey); err != nil {
		return session.fail(errp.WithStack(&AuthenticationError{Err: err}))
	}
	scpSession, err := scp.NewHandshake(
		session.communication, session.identity.Target, key, session.channelLogger).Run()
	if err != nil {
		return session.fail(err)
	}
	channel, err := scp.NewChannel(scpSession.Secret, session.identity.Target.SCPVersion())
	if err != nil {
		return session.fail(err)
	}
	session.channel = channel
	session.loader = loader.NewLoader(
		session.communication, channel, session.loaderLogger, session.onStatusChanged)
	session.state = StateAuthenticated
	session.logger.Info("secure channel established")
	return nil
}

// ListApps lists the installed apps.
func (session *Session) ListApps() ([]loader.App, error) {
	if err := session.require("list apps", StateAuthenticated); err != nil {
		return nil, err
	}
	apps, err := session.loader.ListApps()
	if err != nil {
		return nil, session.fail(err)
	}
	return apps, nil
}

// DeleteApp deletes an installed app. A rejection on the device is returned as
// *DeviceRejectedError and leaves the session open; any other error closes it.
func (session *Session) DeleteApp(name string) error {
	if err := session.require("delete app", StateAuthenticated); err != nil {
		return err
	}
	session.operator.WaitDeviceConfirmation(promptDelete)
	if err := session.loader.DeleteApp(name); err != nil {
		classified := classify(err)
		var rejected *DeviceRejectedError
		if errors.As(classified, &rejected) {
			return classified
		}
		session.Close()
		return classified
	}
	session.logger.Info(fmt.Sprintf("deleted %q", name))
	return nil
}

// Install streams image to the device and then asks the operator to enter the PIN.
func (session *Session) Install(ctx context.Context, image *loader.Image) error {
	if err := session.require("install", StateAuthenticated); err != nil {
		return err
	}
	session.operator.WaitDeviceConfirmation(promptInstall)
	if err := session.loader.Install(ctx, image); err != nil {
		return session.fail(err)
	}
	session.operator.WaitDeviceConfirmation(promptPIN)
	return nil
}

// Close wipes the channel keys and closes the communication. Safe to call more than once.
func (session *Session) Close() {
	if session.state == StateClosed {
		return
	}
	if session.channel != nil {
		session.channel.Close()
	}
	session.communication.Close()
	session.state = StateClosed
}
