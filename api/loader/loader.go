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

// Package loader drives the BOLOS application loader over an established secure channel.
package loader

import (
	"context"
	"fmt"

	"github.com/tomo-inc/app-btcext-boilerplate/api/common"
	"github.com/tomo-inc/app-btcext-boilerplate/api/scp"
	"github.com/tomo-inc/app-btcext-boilerplate/communication/apdu"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

const (
	claLoader = 0xe0
	insLoader = 0x00

	cmdDeleteApp     = 0x0c
	cmdListAppsFirst = 0x0e
	cmdListAppsNext  = 0x0f

	// maxListPages bounds the listing in case a device never returns an empty page.
	maxListPages = 64
)

// Status is the install progress.
type Status struct {
	Installing bool    `json:"installing"`
	Progress   float64 `json:"progress"`
	Installed  bool    `json:"installed"`
}

// Loader sends loader commands wrapped in a secure channel.
type Loader struct {
	communication   apdu.Communication
	channel         *scp.Channel
	logger          common.Logger
	status          *Status
	onStatusChanged func(*Status)
}

// NewLoader creates a new Loader. onStatusChanged is called every time the install status
// changes and may be nil.
func NewLoader(
	communication apdu.Communication,
	channel *scp.Channel,
	logger common.Logger,
	onStatusChanged func(*Status),
) *Loader {
	return &Loader{
		communication:   communication,
		channel:         channel,
		logger:          logger,
		status:          &Status{},
		onStatusChanged: onStatusChanged,
	}
}

// Status returns the install status.
func (loader *Loader) Status() *Status {
	return loader.status
}

func (loader *Loader) changeStatus(f func(*Status)) {
	f(loader.status)
	if loader.onStatusChanged != nil {
		loader.onStatusChanged(loader.status)
	}
}

// exchange sends one wrapped command and unwraps the response.
func (loader *Loader) exchange(cmd apdu.Command) ([]byte, error) {
	wrapped, err := loader.channel.Wrap(cmd.Data)
	if err != nil {
		return nil, err
	}
	cmd.Data = wrapped
	response, err := apdu.Transmit(loader.communication, cmd)
	if err != nil {
		return nil, err
	}
	return loader.channel.Unwrap(response)
}

func (loader *Loader) command(payload []byte) ([]byte, error) {
	return loader.exchange(apdu.Command{CLA: claLoader, INS: insLoader, Data: payload})
}

// ListApps returns all installed apps, requesting pages until the device returns an empty one.
func (loader *Loader) ListApps() ([]App, error) {
	var apps []App
	cmd := byte(cmdListAppsFirst)
	for page := 0; page < maxListPages; page++ {
		response, err := loader.command([]byte{cmd})
		if err != nil {
			return nil, errp.WithMessage(err, "list apps")
		}
		if len(response) == 0 {
			return apps, nil
		}
		pageApps, err := parseApps(response)
		if err != nil {
			return nil, err
		}
		apps = append(apps, pageApps...)
		cmd = cmdListAppsNext
	}
	return nil, errp.Newf("app listing did not end after %d pages", maxListPages)
}

// DeleteApp deletes the app with the given name. Blocks until the user confirms on the device.
func (loader *Loader) DeleteApp(name string) error {
	if len(name) == 0 || len(name) > 0xff {
		return errp.Newf("invalid app name %q", name)
	}
	payload := append([]byte{cmdDeleteApp, byte(len(name))}, name...)
	_, err := loader.command(payload)
	return errp.WithMessage(err, "delete app")
}

// Install streams the image to the device, in order. Short records are skipped. ctx is checked
// between records; a started exchange is never interrupted.
func (loader *Loader) Install(ctx context.Context, image *Image) error {
	total := image.Commands()
	loader.changeStatus(func(status *Status) {
		*status = Status{Installing: true}
	})
	defer loader.changeStatus(func(status *Status) {
		status.Installing = false
	})

	sent := 0
	for index, record := range image.Records {
		if record.Short() {
			loader.logger.Debug(fmt.Sprintf("skipping short record %d", index))
			continue
		}
		if err := ctx.Err(); err != nil {
			return errp.WithStack(err)
		}
		header := record.Header()
		cmd := apdu.Command{CLA: header[0], INS: header[1], P1: header[2], P2: header[3], Data: record.Payload()}
		if _, err := loader.exchange(cmd); err != nil {
			return errp.WithMessage(err, fmt.Sprintf("record %d of %d", index+1, len(image.Records)))
		}
		sent++
		loader.changeStatus(func(status *Status) {
			status.Progress = float64(sent) / float64(total)
		})
	}
	loader.changeStatus(func(status *Status) {
		status.Installed = true
	})
	return nil
}
