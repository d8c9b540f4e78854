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
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tomo-inc/app-btcext-boilerplate/api/common"
	"github.com/tomo-inc/app-btcext-boilerplate/api/scp"
	"github.com/tomo-inc/app-btcext-boilerplate/communication/apdu"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

// UnknownDeviceError is returned when the device reports a target id that is not supported.
type UnknownDeviceError struct {
	TargetID common.TargetID
	// Response is the raw GET_VERSION response.
	Response []byte
}

// Error implements error.
func (e *UnknownDeviceError) Error() string {
	if len(e.Response) < 4 {
		return fmt.Sprintf("unknown device: version response %q too short", hex.EncodeToString(e.Response))
	}
	return fmt.Sprintf("unknown device with target id %s", e.TargetID)
}

// TransportError is returned when communicating with the device failed or the device returned an
// unexpected status.
type TransportError struct {
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	return "communication with the device failed: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// DecryptionError is returned when a response on the secure channel could not be authenticated
// or decrypted.
type DecryptionError struct {
	Err error
}

// Error implements error.
func (e *DecryptionError) Error() string {
	return "could not decrypt the device response: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *DecryptionError) Unwrap() error { return e.Err }

// DeviceRejectedError is returned when the user declined on the device.
type DeviceRejectedError struct {
	Status uint16
}

// Error implements error.
func (e *DeviceRejectedError) Error() string {
	return fmt.Sprintf("rejected on the device (status 0x%04x)", e.Status)
}

// AuthenticationError is returned when the secure channel could not be authenticated.
type AuthenticationError struct {
	Err error
}

// Error implements error.
func (e *AuthenticationError) Error() string {
	return "secure channel could not be established: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *AuthenticationError) Unwrap() error { return e.Err }

// StateError is returned when an operation is called in a session state that does not allow it.
type StateError struct {
	Op    string
	State State
}

// Error implements error.
func (e *StateError) Error() string {
	return fmt.Sprintf("%s not possible in state %s", e.Op, e.State)
}

// classify maps err to the installer error taxonomy. err must not be nil.
func classify(err error) error {
	var (
		unknownDevice  *UnknownDeviceError
		transport      *TransportError
		decryption     *DecryptionError
		rejected       *DeviceRejectedError
		authentication *AuthenticationError
		state          *StateError
		scpAuth        *scp.AuthenticationError
		status         apdu.StatusError
	)
	switch {
	case errors.As(err, &unknownDevice), errors.As(err, &transport), errors.As(err, &decryption),
		errors.As(err, &rejected), errors.As(err, &authentication), errors.As(err, &state):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, scp.ErrDecryption):
		return errp.WithStack(&DecryptionError{Err: err})
	case errors.As(err, &scpAuth):
		return errp.WithStack(&AuthenticationError{Err: err})
	case errors.As(err, &status) && status.IsRejected():
		return errp.WithStack(&DeviceRejectedError{Status: uint16(status)})
	default:
		return errp.WithStack(&TransportError{Err: err})
	}
}
