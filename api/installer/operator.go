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

// Operator is the human attending the installation. All methods block until the operator has
// acted; there is no timeout.
type Operator interface {
	// Inform shows a message.
	Inform(msg string)
	// ConfirmPublicKey shows the host public key, which the device displays for comparison during
	// the handshake. An error aborts the session.
	ConfirmPublicKey(pubKeyHex string) error
	// WaitDeviceConfirmation tells the operator that the device now expects an action, such as
	// approving a deletion or entering the PIN.
	WaitDeviceConfirmation(prompt string)
	// WaitKeyPress waits for any key.
	WaitKeyPress(prompt string)
}
