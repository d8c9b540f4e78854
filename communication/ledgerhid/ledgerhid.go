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

// Package ledgerhid implements the framing protocol Ledger devices use to carry APDUs over HID
// reports.
package ledgerhid

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

const (
	// DefaultChannel is the channel id used by all Ledger host tools.
	DefaultChannel uint16 = 0x0101

	tagAPDU    byte = 0x05
	packetSize      = 64
	headerSize      = 5
)

func newBuffer() *bytes.Buffer {
	// This needs to be allocated exactly like this (not with nil or new(bytes.Buffer) etc), so that
	// the memory address of the actual bytes does not change.
	// See https://github.com/golang/go/issues/14210#issuecomment-370468469
	return bytes.NewBuffer([]byte{})
}

// Communication frames APDUs into 64 byte HID reports.
type Communication struct {
	device  io.ReadWriteCloser
	mutex   sync.Mutex
	channel uint16
}

// NewCommunication creates a new Communication.
// channel is the channel id which is sent and which is expected in responses.
func NewCommunication(
	device io.ReadWriteCloser,
	channel uint16,
) *Communication {
	return &Communication{
		device:  device,
		mutex:   sync.Mutex{},
		channel: channel,
	}
}

func (communication *Communication) header(seq uint16) []byte {
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint16(header[0:2], communication.channel)
	header[2] = tagAPDU
	binary.BigEndian.PutUint16(header[3:5], seq)
	return header
}

func (communication *Communication) sendFrame(msg []byte) error {
	if len(msg) > 0xffff {
		return errp.Newf("message too long: %d bytes", len(msg))
	}
	payload := make([]byte, 2, 2+len(msg))
	binary.BigEndian.PutUint16(payload, uint16(len(msg)))
	payload = append(payload, msg...)

	space := packetSize - headerSize
	for seq := uint16(0); len(payload) > 0; seq++ {
		buf := newBuffer()
		buf.Write(communication.header(seq))
		chunk := payload[:min(len(payload), space)]
		payload = payload[len(chunk):]
		buf.Write(chunk)
		buf.Write(make([]byte, packetSize-buf.Len()))
		if err := communication.write(buf.Bytes()); err != nil {
			return errp.WithMessage(err, "failed to send message")
		}
	}
	return nil
}

// write writes the whole packet, also if the device accepts it in pieces.
func (communication *Communication) write(packet []byte) error {
	for len(packet) > 0 {
		n, err := communication.device.Write(packet)
		if err != nil {
			return errp.WithStack(err)
		}
		if n == 0 {
			return errp.New("device accepted no bytes")
		}
		packet = packet[n:]
	}
	return nil
}

// SendFrame sends one message split over as many HID reports as needed.
func (communication *Communication) SendFrame(msg []byte) error {
	communication.mutex.Lock()
	defer communication.mutex.Unlock()
	return communication.sendFrame(msg)
}

func (communication *Communication) readFrame() ([]byte, error) {
	packet := make([]byte, packetSize)
	var reply []byte
	var expected int
	for seq := uint16(0); ; seq++ {
		if _, err := io.ReadFull(communication.device, packet); err != nil {
			return nil, errp.WithStack(err)
		}
		if channel := binary.BigEndian.Uint16(packet[0:2]); channel != communication.channel {
			return nil, errp.Newf("unexpected channel %04x, expected %04x", channel, communication.channel)
		}
		if packet[2] != tagAPDU {
			return nil, errp.Newf("unexpected tag %02x, expected %02x", packet[2], tagAPDU)
		}
		if replySeq := binary.BigEndian.Uint16(packet[3:5]); replySeq != seq {
			return nil, errp.Newf("unexpected sequence %d, expected %d", replySeq, seq)
		}
		data := packet[headerSize:]
		if seq == 0 {
			expected = int(binary.BigEndian.Uint16(data[0:2]))
			reply = make([]byte, 0, expected)
			data = data[2:]
		}
		left := expected - len(reply)
		if left <= len(data) {
			return append(reply, data[:left]...), nil
		}
		reply = append(reply, data...)
	}
}

// ReadFrame reads one message, reassembled from HID reports.
func (communication *Communication) ReadFrame() ([]byte, error) {
	communication.mutex.Lock()
	defer communication.mutex.Unlock()
	return communication.readFrame()
}

// Query sends a request and waits for the response. Blocking.
func (communication *Communication) Query(request []byte) ([]byte, error) {
	communication.mutex.Lock()
	defer communication.mutex.Unlock()
	if err := communication.sendFrame(request); err != nil {
		return nil, err
	}
	return communication.readFrame()
}

// Close closes the underlying device.
func (communication *Communication) Close() {
	if err := communication.device.Close(); err != nil {
		panic(err)
	}
}
