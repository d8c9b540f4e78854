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

// Package mocks contains the mock implementations to be used in testing.
package mocks

// Communication is a mock implementation of apdu.Communication.
type Communication struct {
	MockQuery func([]byte) ([]byte, error)
	MockClose func()
}

// Query implements apdu.Communication.
func (communication *Communication) Query(msg []byte) ([]byte, error) {
	return communication.MockQuery(msg)
}

// Close implements apdu.Communication.
func (communication *Communication) Close() {
	if communication.MockClose != nil {
		communication.MockClose()
	}
}

// Logger is a mock implementation of common.Logger. Messages are collected so tests can assert on
// them.
type Logger struct {
	Errors []string
	Infos  []string
}

// Error implements common.Logger.
func (logger *Logger) Error(msg string, err error) {
	logger.Errors = append(logger.Errors, msg+": "+err.Error())
}

// Info implements common.Logger.
func (logger *Logger) Info(msg string) {
	logger.Infos = append(logger.Infos, msg)
}

// Debug implements common.Logger.
func (logger *Logger) Debug(msg string) {}

// Operator is a mock implementation of installer.Operator.
type Operator struct {
	MockConfirmPublicKey func(pubKeyHex string) error
	Messages             []string
	PublicKeys           []string
	Prompts              []string
	KeyPresses           int
}

// Inform implements installer.Operator.
func (operator *Operator) Inform(msg string) {
	operator.Messages = append(operator.Messages, msg)
}

// ConfirmPublicKey implements installer.Operator. Confirms unless MockConfirmPublicKey says
// otherwise.
func (operator *Operator) ConfirmPublicKey(pubKeyHex string) error {
	operator.PublicKeys = append(operator.PublicKeys, pubKeyHex)
	if operator.MockConfirmPublicKey != nil {
		return operator.MockConfirmPublicKey(pubKeyHex)
	}
	return nil
}

// WaitDeviceConfirmation implements installer.Operator.
func (operator *Operator) WaitDeviceConfirmation(prompt string) {
	operator.Prompts = append(operator.Prompts, prompt)
}

// WaitKeyPress implements installer.Operator.
func (operator *Operator) WaitKeyPress(prompt string) {
	operator.KeyPresses++
}
