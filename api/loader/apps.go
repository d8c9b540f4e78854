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

package loader

import (
	"bytes"

	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
	"golang.org/x/crypto/cryptobyte"
)

const listFormatV2 = 0x01

// App is an application installed on the device.
type App struct {
	Name  string
	Flags uint32
	Hash  []byte
	// HashCodeData is only reported by newer firmwares.
	HashCodeData []byte
}

// parseApps parses one page of the app listing.
func parseApps(page []byte) ([]App, error) {
	input := cryptobyte.String(page)
	withCodeHash := len(page) > 0 && page[0] == listFormatV2
	if withCodeHash {
		input.Skip(1)
	}
	var apps []App
	for !input.Empty() {
		var entry cryptobyte.String
		if !input.ReadUint8LengthPrefixed(&entry) {
			return nil, errp.New("truncated app entry")
		}
		var app App
		var hashCodeData, hash, name cryptobyte.String
		if !entry.ReadUint32(&app.Flags) {
			return nil, errp.New("truncated app flags")
		}
		if withCodeHash && !entry.ReadBytes((*[]byte)(&hashCodeData), 32) {
			return nil, errp.New("truncated app code hash")
		}
		if !entry.ReadBytes((*[]byte)(&hash), 32) ||
			!entry.ReadUint8LengthPrefixed(&name) {
			return nil, errp.New("truncated app entry")
		}
		app.Name = string(name)
		app.Hash = bytes.Clone(hash)
		if withCodeHash {
			app.HashCodeData = bytes.Clone(hashCodeData)
		}
		apps = append(apps, app)
	}
	return apps, nil
}
