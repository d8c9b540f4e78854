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

// Package speculos talks to the APDU port of the Speculos device emulator.
package speculos

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

// DefaultAddress is the APDU port Speculos listens on by default.
const DefaultAddress = "127.0.0.1:9999"

// Communication exchanges length prefixed APDUs with Speculos.
type Communication struct {
	conn  io.ReadWriteCloser
	mutex sync.Mutex
}

// NewCommunication creates a new Communication over an established connection.
func NewCommunication(conn io.ReadWriteCloser) *Communication {
	return &Communication{conn: conn}
}

// Dial connects to Speculos at address.
func Dial(ctx context.Context, address string) (*Communication, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errp.Wrapf(err, "could not connect to speculos at %s", address)
	}
	return NewCommunication(conn), nil
}

// Query sends a request and returns the response data followed by the status word. Blocking.
func (communication *Communication) Query(request []byte) ([]byte, error) {
	communication.mutex.Lock()
	defer communication.mutex.Unlock()

	msg := make([]byte, 4, 4+len(request))
	binary.BigEndian.PutUint32(msg, uint32(len(request)))
	msg = append(msg, request...)
	if _, err := communication.conn.Write(msg); err != nil {
		return nil, errp.WithMessage(errp.WithStack(err), "failed to send message")
	}

	var lengthBytes [4]byte
	if _, err := io.ReadFull(communication.conn, lengthBytes[:]); err != nil {
		return nil, errp.WithStack(err)
	}
	// The length excludes the status word.
	length := binary.BigEndian.Uint32(lengthBytes[:])
	if length > 0xffff {
		return nil, errp.Newf("response too long: %d bytes", length)
	}
	response := make([]byte, length+2)
	if _, err := io.ReadFull(communication.conn, response); err != nil {
		return nil, errp.WithStack(err)
	}
	return response, nil
}

// Close closes the connection.
func (communication *Communication) Close() {
	_ = communication.conn.Close()
}
