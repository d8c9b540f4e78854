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

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/tomo-inc/app-btcext-boilerplate/api/loader"
	"golang.org/x/term"
)

// terminalOperator talks to the person running the installer.
type terminalOperator struct {
	in  io.Reader
	out io.Writer
	// lastPercent avoids redrawing the same progress.
	lastPercent int
}

func newTerminalOperator(in io.Reader, out io.Writer) *terminalOperator {
	return &terminalOperator{in: in, out: out, lastPercent: -1}
}

func (operator *terminalOperator) Inform(msg string) {
	fmt.Fprintln(operator.out, msg)
}

// ConfirmPublicKey shows the key. The comparison is confirmed on the device itself.
func (operator *terminalOperator) ConfirmPublicKey(pubKeyHex string) error {
	fmt.Fprintf(operator.out, "Public key: %s\n", pubKeyHex)
	fmt.Fprintln(operator.out,
		"Please confirm on the device that it shows the same public key as above.")
	return nil
}

func (operator *terminalOperator) WaitDeviceConfirmation(prompt string) {
	fmt.Fprintln(operator.out, prompt)
}

// WaitKeyPress reads a single key, in raw mode if the input is a terminal.
func (operator *terminalOperator) WaitKeyPress(prompt string) {
	fmt.Fprint(operator.out, prompt)
	if file, ok := operator.in.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		state, err := term.MakeRaw(int(file.Fd()))
		if err == nil {
			defer func() { _ = term.Restore(int(file.Fd()), state) }()
		}
	}
	_, _ = operator.in.Read(make([]byte, 1))
	fmt.Fprintln(operator.out)
}

// Progress renders the install progress on one line.
func (operator *terminalOperator) Progress(status *loader.Status) {
	switch {
	case status.Installing:
		percent := int(status.Progress * 100)
		if percent == operator.lastPercent {
			return
		}
		operator.lastPercent = percent
		fmt.Fprintf(operator.out, "\rInstalling: %3d%%", percent)
	case status.Installed:
		fmt.Fprintln(operator.out, "\rInstalling: 100%")
	case operator.lastPercent >= 0:
		fmt.Fprintln(operator.out)
	}
}
