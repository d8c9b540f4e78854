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

package babylon

import (
	"fmt"

	"github.com/tomo-inc/app-btcext-boilerplate/api/common"
	"github.com/tomo-inc/app-btcext-boilerplate/communication/apdu"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

const (
	claApp = 0xe1

	insXOR    = 0x80
	insParams = 0xbb

	// ChunkSize is the payload size of each parameter APDU.
	ChunkSize = 64
	// MaxChunks is the number of chunks the app buffers.
	MaxChunks = 15

	p2LastChunk = 0x80
)

// App talks to the Babylon app running on the device.
type App struct {
	communication apdu.Communication
	logger        common.Logger
}

// NewApp creates a new App.
func NewApp(communication apdu.Communication, logger common.Logger) *App {
	return &App{communication: communication, logger: logger}
}

// XOR returns the XOR of all data bytes, computed by the device.
func (app *App) XOR(data []byte) (byte, error) {
	response, err := apdu.Transmit(app.communication, apdu.Command{CLA: claApp, INS: insXOR, Data: data})
	if err != nil {
		return 0, err
	}
	if len(response) != 1 {
		return 0, errp.Newf("unexpected XOR response of %d bytes", len(response))
	}
	return response[0], nil
}

// SendParams sends the TLV encoded parameters in chunks. P1 is the chunk index and the last chunk
// is flagged in P2.
func (app *App) SendParams(params *Params) error {
	encoded, err := params.MarshalTLV()
	if err != nil {
		return err
	}
	chunks := (len(encoded) + ChunkSize - 1) / ChunkSize
	if chunks > MaxChunks {
		return errp.Newf("parameters need %d chunks, at most %d are supported", chunks, MaxChunks)
	}
	for index := 0; index < chunks; index++ {
		end := min((index+1)*ChunkSize, len(encoded))
		cmd := apdu.Command{CLA: claApp, INS: insParams, P1: byte(index), Data: encoded[index*ChunkSize : end]}
		if index == chunks-1 {
			cmd.P2 = p2LastChunk
		}
		if _, err := apdu.Transmit(app.communication, cmd); err != nil {
			return errp.WithMessage(err, fmt.Sprintf("chunk %d of %d", index+1, chunks))
		}
	}
	app.logger.Debug(fmt.Sprintf("sent %s parameters in %d chunks", params.Action, chunks))
	return nil
}
