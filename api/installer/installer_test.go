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

package installer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
	"github.com/tomo-inc/app-btcext-boilerplate/api/common"
	"github.com/tomo-inc/app-btcext-boilerplate/api/loader"
	"github.com/tomo-inc/app-btcext-boilerplate/api/mocks"
	"github.com/tomo-inc/app-btcext-boilerplate/communication/apdu"
)

// testImage has one short record, which is never sent. Records with P1=01 are install records.
const testImage = `e0000100050102030405
e00001

e00001000a00112233445566778899
`

func appPage(names ...string) []byte {
	page := []byte{0x01}
	for _, name := range names {
		entry := []byte{0, 0, 0x08, 0}
		entry = append(entry, bytes.Repeat([]byte{0xcc}, 32)...)
		entry = append(entry, bytes.Repeat([]byte{0xaa}, 32)...)
		entry = append(entry, byte(len(name)))
		entry = append(entry, name...)
		page = append(page, byte(len(entry)))
		page = append(page, entry...)
	}
	return page
}

type testEnv struct {
	device        *mocks.Device
	communication *mocks.Communication
	operator      *mocks.Operator
	logger        *mocks.Logger
	images        ImageStore
	// installed collects the decrypted payloads of install records.
	installed [][]byte
	deleted   []string
	// apps is the listing returned by the device.
	apps        []string
	deleteSW    uint16
	tamperReply bool
	closed      int
}

func newTestEnv(target common.TargetID) *testEnv {
	env := &testEnv{
		device:   mocks.NewDevice(target),
		operator: &mocks.Operator{},
		logger:   &mocks.Logger{},
		apps:     []string{"Ethereum", DefaultAppName},
		deleteSW: apdu.SWOK,
	}
	if device, ok := target.Device(); ok {
		env.images = NewImageStore(fstest.MapFS{
			device.ImageFile: &fstest.MapFile{Data: []byte(testImage)},
		})
	} else {
		env.images = NewImageStore(fstest.MapFS{})
	}
	env.device.OnLoaderCommand = func(payload []byte) ([]byte, uint16) {
		switch payload[0] {
		case 0x0e:
			return appPage(env.apps...), apdu.SWOK
		case 0x0f:
			return nil, apdu.SWOK
		case 0x0c:
			if env.deleteSW != apdu.SWOK {
				return nil, env.deleteSW
			}
			env.deleted = append(env.deleted, string(payload[2:2+payload[1]]))
			return nil, apdu.SWOK
		default:
			env.installed = append(env.installed, payload)
			return nil, apdu.SWOK
		}
	}
	env.communication = &mocks.Communication{
		MockQuery: func(request []byte) ([]byte, error) {
			response, err := env.device.Query(request)
			if err != nil {
				return nil, err
			}
			if env.tamperReply && request[1] == 0x00 && request[2] == 0x01 {
				n := len(response) - 2
				response = append(append(response[:n:n], 0x00), response[n:]...)
			}
			return response, nil
		},
		MockClose: func() { env.closed++ },
	}
	return env
}

func (env *testEnv) run() error {
	return Run(context.Background(), env.communication, env.images, env.operator,
		Config{}, env.logger)
}

func TestRun(t *testing.T) {
	for _, target := range common.KnownTargets() {
		t.Run(target.String(), func(t *testing.T) {
			env := newTestEnv(target)
			var statuses []loader.Status
			err := Run(context.Background(), env.communication, env.images, env.operator,
				Config{OnStatusChanged: func(status *loader.Status) {
					statuses = append(statuses, *status)
				}}, env.logger)
			require.NoError(t, err)

			device, _ := target.Device()
			require.Equal(t,
				[]string{"Device Name: " + device.Name, "App installed successfully"},
				env.operator.Messages)
			require.Len(t, env.operator.PublicKeys, 1)
			publicKey, err := hex.DecodeString(env.operator.PublicKeys[0])
			require.NoError(t, err)
			require.Len(t, publicKey, 65)
			require.Equal(t, []string{promptDelete, promptInstall, promptPIN}, env.operator.Prompts)
			require.Equal(t, []string{DefaultAppName}, env.deleted)
			require.Equal(t, [][]byte{
				{0x01, 0x02, 0x03, 0x04, 0x05},
				{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99},
			}, env.installed)
			require.Equal(t, loader.Status{Installed: true, Progress: 1}, statuses[len(statuses)-1])
			require.Equal(t, 1, env.closed)
		})
	}
}

func TestRunAppNotInstalled(t *testing.T) {
	env := newTestEnv(common.TargetFlex)
	env.apps = []string{"Ethereum"}
	require.NoError(t, env.run())
	require.Empty(t, env.deleted)
	require.Equal(t, []string{promptInstall, promptPIN}, env.operator.Prompts)
	require.Len(t, env.installed, 2)
}

func TestRunCustomAppName(t *testing.T) {
	env := newTestEnv(common.TargetStax)
	err := Run(context.Background(), env.communication, env.images, env.operator,
		Config{AppName: "Ethereum"}, env.logger)
	require.NoError(t, err)
	require.Equal(t, []string{"Ethereum"}, env.deleted)
}

func TestRunUnknownDevice(t *testing.T) {
	env := newTestEnv(0x12345678)
	err := env.run()
	var unknown *UnknownDeviceError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, common.TargetID(0x12345678), unknown.TargetID)
	require.Len(t, env.device.Requests, 1)
	require.Empty(t, env.operator.PublicKeys)
	require.Equal(t, 1, env.closed)
}

func TestRunShortVersion(t *testing.T) {
	closed := false
	communication := &mocks.Communication{
		MockQuery: func(request []byte) ([]byte, error) {
			return []byte{0x33, 0x00, 0x90, 0x00}, nil
		},
		MockClose: func() { closed = true },
	}
	err := Run(context.Background(), communication, NewImageStore(fstest.MapFS{}),
		&mocks.Operator{}, Config{}, &mocks.Logger{})
	var unknown *UnknownDeviceError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, []byte{0x33, 0x00}, unknown.Response)
	require.True(t, closed)
}

func TestRunTransportError(t *testing.T) {
	expectedErr := errors.New("usb unplugged")
	closed := false
	communication := &mocks.Communication{
		MockQuery: func(request []byte) ([]byte, error) { return nil, expectedErr },
		MockClose: func() { closed = true },
	}
	err := Run(context.Background(), communication, NewImageStore(fstest.MapFS{}),
		&mocks.Operator{}, Config{}, &mocks.Logger{})
	var transport *TransportError
	require.True(t, errors.As(err, &transport))
	require.ErrorIs(t, err, expectedErr)
	require.True(t, closed)
}

func TestRunMissingImage(t *testing.T) {
	env := newTestEnv(common.TargetFlex)
	env.images = NewImageStore(fstest.MapFS{})
	require.Error(t, env.run())
	// The device is never authenticated.
	require.Empty(t, env.operator.PublicKeys)
	require.Equal(t, 1, env.closed)
}

func TestRunPublicKeyDeclined(t *testing.T) {
	env := newTestEnv(common.TargetFlex)
	declined := errors.New("keys differ")
	env.operator.MockConfirmPublicKey = func(string) error { return declined }
	err := env.run()
	var authentication *AuthenticationError
	require.True(t, errors.As(err, &authentication))
	require.ErrorIs(t, err, declined)
	require.Nil(t, env.device.Channel)
	require.Equal(t, 1, env.closed)
}

func TestRunBrokenChain(t *testing.T) {
	env := newTestEnv(common.TargetNanoSPlus)
	env.device.BreakChain = true
	err := env.run()
	var authentication *AuthenticationError
	require.True(t, errors.As(err, &authentication))
	require.Empty(t, env.installed)
	require.Equal(t, 1, env.closed)
}

func TestRunDeleteRejected(t *testing.T) {
	for _, sw := range []uint16{0x6985, 0x5501} {
		env := newTestEnv(common.TargetFlex)
		env.deleteSW = sw
		err := env.run()
		var rejected *DeviceRejectedError
		require.True(t, errors.As(err, &rejected))
		require.Equal(t, sw, rejected.Status)
		require.Empty(t, env.installed)
		require.Equal(t, 1, env.closed)
	}
}

func TestRunDeleteFailed(t *testing.T) {
	env := newTestEnv(common.TargetFlex)
	env.deleteSW = 0x6a80
	err := env.run()
	var transport *TransportError
	require.True(t, errors.As(err, &transport))
	require.Equal(t, 1, env.closed)
}

func TestRunDecryptionError(t *testing.T) {
	for _, target := range []common.TargetID{common.TargetFlex, common.TargetNanoS14} {
		env := newTestEnv(target)
		env.tamperReply = true
		err := env.run()
		var decryption *DecryptionError
		require.True(t, errors.As(err, &decryption))
		require.Contains(t, err.Error(), "record 1 of 3")
		require.Equal(t, []string{promptDelete, promptInstall}, env.operator.Prompts)
		require.Equal(t, 1, env.closed)
	}
}

func TestRunCanceled(t *testing.T) {
	env := newTestEnv(common.TargetFlex)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, env.communication, env.images, env.operator, Config{}, env.logger)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, env.installed)
	require.Equal(t, 1, env.closed)
}

func TestSessionStates(t *testing.T) {
	env := newTestEnv(common.TargetFlex)
	session := NewSession(env.communication, env.operator, env.logger, nil)
	require.Equal(t, StateDisconnected, session.State())
	require.Nil(t, session.Identity())

	var stateErr *StateError
	_, err := session.ListApps()
	require.True(t, errors.As(err, &stateErr))
	require.Equal(t, StateDisconnected, stateErr.State)
	require.True(t, errors.As(session.Authenticate(), &stateErr))
	require.True(t, errors.As(session.DeleteApp(DefaultAppName), &stateErr))
	require.True(t, errors.As(session.Install(context.Background(), &loader.Image{}), &stateErr))

	identity, err := session.Identify()
	require.NoError(t, err)
	require.Equal(t, common.TargetFlex, identity.Target)
	require.Equal(t, "flex.apdu", identity.Device.ImageFile)
	require.Equal(t, StateIdentified, session.State())
	_, err = session.Identify()
	require.True(t, errors.As(err, &stateErr))

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	session.newKey = func() (*btcec.PrivateKey, error) { return key, nil }
	require.NoError(t, session.Authenticate())
	require.Equal(t, StateAuthenticated, session.State())
	require.Equal(t,
		[]string{hex.EncodeToString(key.PubKey().SerializeUncompressed())},
		env.operator.PublicKeys)

	apps, err := session.ListApps()
	require.NoError(t, err)
	require.Len(t, apps, 2)
	require.Equal(t, StateAuthenticated, session.State())

	session.Close()
	session.Close()
	require.Equal(t, StateClosed, session.State())
	require.Equal(t, 1, env.closed)
	_, err = session.ListApps()
	require.True(t, errors.As(err, &stateErr))
	require.Equal(t, "list apps not possible in state closed", stateErr.Error())
}

func TestSessionDeleteRejectedKeepsSession(t *testing.T) {
	env := newTestEnv(common.TargetFlex)
	session := NewSession(env.communication, env.operator, env.logger, nil)
	_, err := session.Identify()
	require.NoError(t, err)
	require.NoError(t, session.Authenticate())
	env.deleteSW = 0x6985
	var rejected *DeviceRejectedError
	require.True(t, errors.As(session.DeleteApp(DefaultAppName), &rejected))
	require.Equal(t, StateAuthenticated, session.State())
	env.deleteSW = apdu.SWOK
	require.NoError(t, session.DeleteApp(DefaultAppName))
	session.Close()
}

func TestClassify(t *testing.T) {
	var rejected *DeviceRejectedError
	require.True(t, errors.As(classify(apdu.StatusError(0x6985)), &rejected))
	var transport *TransportError
	require.True(t, errors.As(classify(apdu.StatusError(0x6d00)), &transport))
	// Already classified errors are returned unchanged.
	err := &DecryptionError{Err: errors.New("x")}
	require.Equal(t, error(err), classify(err))
}

func TestRunSubsystemLoggers(t *testing.T) {
	env := newTestEnv(common.TargetFlex)
	channelLogger := &mocks.Logger{}
	err := Run(context.Background(), env.communication, env.images, env.operator,
		Config{ChannelLogger: channelLogger}, env.logger)
	require.NoError(t, err)
	require.Contains(t, channelLogger.Infos, "device certificate not signed by host signer")
	require.NotContains(t, env.logger.Infos, "device certificate not signed by host signer")
	require.Contains(t, env.logger.Infos, "secure channel established")
}
