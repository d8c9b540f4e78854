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

package installer

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/tomo-inc/app-btcext-boilerplate/api/common"
	"github.com/tomo-inc/app-btcext-boilerplate/api/loader"
	"github.com/tomo-inc/app-btcext-boilerplate/communication/apdu"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

// DefaultAppName is the name of the app replaced by the installer.
const DefaultAppName = "Bitcoin Test"

// ImageStore provides app images by file name.
type ImageStore interface {
	Open(name string) (io.ReadCloser, error)
}

type fsImageStore struct {
	fsys fs.FS
}

// NewImageStore returns an ImageStore reading images from fsys.
func NewImageStore(fsys fs.FS) ImageStore {
	return fsImageStore{fsys: fsys}
}

// NewDirImageStore returns an ImageStore reading images from the directory dir.
func NewDirImageStore(dir string) ImageStore {
	return NewImageStore(os.DirFS(dir))
}

func (store fsImageStore) Open(name string) (io.ReadCloser, error) {
	file, err := store.fsys.Open(name)
	if err != nil {
		return nil, errp.WithStack(err)
	}
	return file, nil
}

// Config configures Run.
type Config struct {
	// AppName is deleted before installing if it is present on the device.
	AppName string
	// OnStatusChanged is called with the install progress. May be nil.
	OnStatusChanged func(*loader.Status)
	// ChannelLogger and LoaderLogger default to the logger passed to Run.
	ChannelLogger common.Logger
	LoaderLogger  common.Logger
}

func readImage(images ImageStore, name string) (*loader.Image, error) {
	file, err := images.Open(name)
	if err != nil {
		return nil, errp.WithMessage(err, "open image")
	}
	defer func() { _ = file.Close() }()
	return loader.ParseImage(file)
}

// Run replaces the app on the device with the image matching the device: identify, authenticate,
// delete the existing app and install. communication is closed when Run returns.
func Run(
	ctx context.Context,
	communication apdu.Communication,
	images ImageStore,
	operator Operator,
	config Config,
	logger common.Logger,
) error {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	session := NewSession(communication, operator, logger, config.OnStatusChanged)
	session.SetLoggers(config.ChannelLogger, config.LoaderLogger)
	defer session.Close()

	identity, err := session.Identify()
	if err != nil {
		return err
	}
	operator.Inform("Device Name: " + identity.Device.Name)

	image, err := readImage(images, identity.Device.ImageFile)
	if err != nil {
		return err
	}
	logger.Debug(fmt.Sprintf("image %s has %d commands", identity.Device.ImageFile, image.Commands()))

	if err := session.Authenticate(); err != nil {
		return err
	}
	apps, err := session.ListApps()
	if err != nil {
		return err
	}
	for _, app := range apps {
		if app.Name != config.AppName {
			continue
		}
		if err := session.DeleteApp(app.Name); err != nil {
			return err
		}
		break
	}
	if err := session.Install(ctx, image); err != nil {
		return err
	}
	operator.Inform("App installed successfully")
	return nil
}
