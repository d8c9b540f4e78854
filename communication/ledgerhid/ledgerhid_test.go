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

package ledgerhid_test

import (
	"bytes"
	"encoding/hex"
	"io"
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/require"
	"github.com/tomo-inc/app-btcext-boilerplate/communication/ledgerhid"
)

func mustDecodeHex(str string) []byte {
	decoded, err := hex.DecodeString(str)
	if err != nil {
		panic(err)
	}
	return decoded
}

type deviceMock struct {
	io.Writer
	io.Reader
}

func (device *deviceMock) Close() error {
	return nil
}

// chunkedWriter accepts at most chunkSize bytes per Write call.
type chunkedWriter struct {
	buf       bytes.Buffer
	chunkSize int
}

func (w *chunkedWriter) Write(p []byte) (int, error) {
	if w.chunkSize == 0 || w.chunkSize > len(p) {
		return w.buf.Write(p)
	}
	return w.buf.Write(p[:w.chunkSize])
}

func TestReadWrite(t *testing.T) {
	f := func(data []byte) bool {
		writer := new(bytes.Buffer)
		err := ledgerhid.NewCommunication(
			&deviceMock{Writer: writer},
			ledgerhid.DefaultChannel,
		).SendFrame(data)
		if err != nil {
			return false
		}
		encoded := writer.Bytes()
		require.Zero(t, len(encoded)%64)

		read, err := ledgerhid.NewCommunication(
			&deviceMock{Reader: bytes.NewReader(encoded)},
			ledgerhid.DefaultChannel,
		).ReadFrame()
		if err != nil {
			return false
		}
		return bytes.Equal(data, read)
	}
	require.NoError(t, quick.Check(f, nil))
}

func TestWrite(t *testing.T) {
	buf := new(bytes.Buffer)
	err := ledgerhid.NewCommunication(
		&deviceMock{Writer: buf},
		ledgerhid.DefaultChannel,
	).SendFrame(mustDecodeHex("e001000000"))
	require.NoError(t, err)
	expected := "01010500000005e001000000" + strings.Repeat("00", 52)
	require.Equal(t, expected, hex.EncodeToString(buf.Bytes()))
}

func TestWriteMultiplePackets(t *testing.T) {
	for _, chunkSize := range []int{0, 1, 7, 63} {
		writer := &chunkedWriter{chunkSize: chunkSize}
		msg := bytes.Repeat([]byte{0xab}, 100)
		err := ledgerhid.NewCommunication(
			&deviceMock{Writer: writer},
			ledgerhid.DefaultChannel,
		).SendFrame(msg)
		require.NoError(t, err)

		encoded := writer.buf.Bytes()
		require.Len(t, encoded, 128)
		// First packet: header, length, 57 bytes of message.
		require.Equal(t, "0101050000", hex.EncodeToString(encoded[0:5]))
		require.Equal(t, "0064", hex.EncodeToString(encoded[5:7]))
		require.Equal(t, msg[:57], encoded[7:64])
		// Second packet: header with sequence 1, remaining 43 bytes, zero padding.
		require.Equal(t, "0101050001", hex.EncodeToString(encoded[64:69]))
		require.Equal(t, msg[57:], encoded[69:69+43])
		require.Equal(t, make([]byte, 64-5-43), encoded[69+43:])
	}
}

func TestRead(t *testing.T) {
	response := "01010500000006" + "33100004" + "9000" + strings.Repeat("00", 51)
	communication := ledgerhid.NewCommunication(
		&deviceMock{Reader: bytes.NewReader(mustDecodeHex(response))},
		ledgerhid.DefaultChannel,
	)
	read, err := communication.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "331000049000", hex.EncodeToString(read))
}

func TestReadInvalid(t *testing.T) {
	padding := strings.Repeat("00", 57)
	for _, test := range []struct {
		name     string
		response string
	}{
		{"wrong channel", "01020500000002" + padding},
		{"wrong tag", "01010600000002" + padding},
		{"wrong sequence", "01010500010002" + padding},
		{"truncated", "0101050000"},
		{"missing continuation", "010105000000ff" + padding},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			_, err := ledgerhid.NewCommunication(
				&deviceMock{Reader: bytes.NewReader(mustDecodeHex(test.response))},
				ledgerhid.DefaultChannel,
			).ReadFrame()
			require.Error(t, err)
		})
	}
}

func TestQuery(t *testing.T) {
	writer := new(bytes.Buffer)
	response := "01010500000002" + "9000" + strings.Repeat("00", 55)
	communication := ledgerhid.NewCommunication(
		&deviceMock{
			Writer: writer,
			Reader: bytes.NewReader(mustDecodeHex(response)),
		},
		ledgerhid.DefaultChannel,
	)
	read, err := communication.Query(mustDecodeHex("e001000000"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x90, 0x00}, read)
	require.Len(t, writer.Bytes(), 64)
}
