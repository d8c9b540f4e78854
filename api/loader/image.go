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
	"bufio"
	"bytes"
	"encoding/hex"
	"io"

	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

// headerSize is CLA, INS, P1, P2 and Lc.
const headerSize = 5

// Record is one APDU of an application image, in clear.
type Record []byte

// Short returns true if the record is too short to carry a command. Short records are not sent.
func (record Record) Short() bool {
	return len(record) < headerSize
}

// Header returns CLA, INS, P1 and P2.
func (record Record) Header() []byte {
	return record[:4]
}

// Payload returns the bytes after the length byte. These are the bytes which are encrypted.
func (record Record) Payload() []byte {
	return record[headerSize:]
}

// Image is an application image: the sequence of loader APDUs producing the app on the device.
type Image struct {
	Records []Record
}

// ParseImage reads an image with one hex encoded record per line. Blank lines are ignored.
func ParseImage(r io.Reader) (*Image, error) {
	image := &Image{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for line := 1; scanner.Scan(); line++ {
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		record := make(Record, hex.DecodedLen(len(text)))
		if _, err := hex.Decode(record, text); err != nil {
			return nil, errp.Wrapf(err, "line %d", line)
		}
		image.Records = append(image.Records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, errp.WithStack(err)
	}
	return image, nil
}

// Commands returns the number of records which are sent to the device.
func (image *Image) Commands() int {
	n := 0
	for _, record := range image.Records {
		if !record.Short() {
			n++
		}
	}
	return n
}
