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
	"bytes"
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunShowsErrorWithLoggingOff(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	out := &bytes.Buffer{}
	operator := newTerminalOperator(strings.NewReader(""), out)
	err = newCommand(operator).Run(context.Background(), []string{
		"babyloninst", "--speculos", address, "--log-level", "off", "--no-wait",
	})
	require.Error(t, err)
	require.Contains(t, out.String(), "Error: could not connect to speculos at "+address)
}

func TestRunInvalidLogLevel(t *testing.T) {
	out := &bytes.Buffer{}
	operator := newTerminalOperator(strings.NewReader(""), out)
	err := newCommand(operator).Run(context.Background(), []string{
		"babyloninst", "--log-level", "loud", "--no-wait",
	})
	require.Error(t, err)
	require.True(t, strings.HasPrefix(out.String(), "Error: "))
}
