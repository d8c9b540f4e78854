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

// Package main installs the Babylon app on a Ledger device.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/karalabe/hid"
	"github.com/tomo-inc/app-btcext-boilerplate/api/installer"
	"github.com/tomo-inc/app-btcext-boilerplate/api/loader"
	"github.com/tomo-inc/app-btcext-boilerplate/communication/apdu"
	"github.com/tomo-inc/app-btcext-boilerplate/communication/ledgerhid"
	"github.com/tomo-inc/app-btcext-boilerplate/communication/speculos"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
	"github.com/tomo-inc/app-btcext-boilerplate/util/logging"
	"github.com/urfave/cli/v3"
)

const (
	ledgerVendorID  = 0x2c97
	ledgerUsagePage = 0xffa0
)

func isLedger(deviceInfo *hid.DeviceInfo) bool {
	return deviceInfo.VendorID == ledgerVendorID &&
		(deviceInfo.UsagePage == ledgerUsagePage || deviceInfo.Interface == 0)
}

func openLedger(logger *logging.Logger) (apdu.Communication, error) {
	infos, err := hid.Enumerate(ledgerVendorID, 0)
	if err != nil {
		return nil, errp.WithStack(err)
	}
	for idx := range infos {
		deviceInfo := &infos[idx]
		if !isLedger(deviceInfo) {
			continue
		}
		logger.Debug(fmt.Sprintf("opening %s (%s)", deviceInfo.Product, deviceInfo.Path))
		device, err := deviceInfo.Open()
		if err != nil {
			return nil, errp.WithStack(err)
		}
		return ledgerhid.NewCommunication(device, ledgerhid.DefaultChannel), nil
	}
	return nil, errp.New("no Ledger device found")
}

func openCommunication(ctx context.Context, speculosAddress string, logger *logging.Logger) (apdu.Communication, error) {
	if speculosAddress != "" {
		logger.Info("connecting to speculos at " + speculosAddress)
		return speculos.Dial(ctx, speculosAddress)
	}
	return openLedger(logger)
}

// run installs the app. Errors also go to the operator so they are shown at any log level.
func run(ctx context.Context, cmd *cli.Command, operator *terminalOperator) error {
	backend, err := logging.NewBackend(os.Stderr, cmd.String("log-level"))
	if err != nil {
		operator.Inform("Error: " + err.Error())
		return err
	}
	logger := backend.Logger(logging.SubsystemInstaller)
	if !cmd.Bool("no-wait") {
		defer operator.WaitKeyPress("Press any key to exit...")
	}

	communication, err := openCommunication(
		ctx, cmd.String("speculos"), backend.Logger(logging.SubsystemHID))
	if err != nil {
		logger.Error("could not connect to the device", err)
		operator.Inform("Error: " + err.Error())
		return err
	}
	err = installer.Run(ctx, communication,
		installer.NewDirImageStore(cmd.String("image-dir")),
		operator,
		installer.Config{
			AppName: cmd.String("app-name"),
			OnStatusChanged: func(status *loader.Status) {
				operator.Progress(status)
			},
			ChannelLogger: backend.Logger(logging.SubsystemChannel),
			LoaderLogger:  backend.Logger(logging.SubsystemLoader),
		},
		logger)
	if err != nil {
		logger.Error("installation failed", err)
		operator.Inform("Error: " + err.Error())
	}
	return err
}

func newCommand(operator *terminalOperator) *cli.Command {
	return &cli.Command{
		Name:  "babyloninst",
		Usage: "Install the Babylon app on a Ledger device",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "image-dir",
				Usage:   "directory containing the app images",
				Value:   "./apdu",
				Sources: cli.EnvVars("BABYLONINST_IMAGE_DIR"),
			},
			&cli.StringFlag{
				Name:    "app-name",
				Usage:   "name of the app to replace",
				Value:   installer.DefaultAppName,
				Sources: cli.EnvVars("BABYLONINST_APP_NAME"),
			},
			&cli.StringFlag{
				Name:    "speculos",
				Usage:   "address of a speculos APDU server, e.g. " + speculos.DefaultAddress + ". Uses USB if empty",
				Sources: cli.EnvVars("BABYLONINST_SPECULOS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "trace, debug, info, warn, error, critical or off",
				Value:   "info",
				Sources: cli.EnvVars("BABYLONINST_LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "no-wait",
				Usage:   "exit without waiting for a key press",
				Sources: cli.EnvVars("BABYLONINST_NO_WAIT"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, cmd, operator)
		},
	}
}

func main() {
	if err := newCommand(newTerminalOperator(os.Stdin, os.Stdout)).Run(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
}
