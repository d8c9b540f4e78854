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

// Package main is a playground for devs to interact with the Babylon app on Speculos.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tomo-inc/app-btcext-boilerplate/api/babylon"
	"github.com/tomo-inc/app-btcext-boilerplate/communication/speculos"
	"github.com/tomo-inc/app-btcext-boilerplate/util/logging"
)

func errpanic(err error) {
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func unhex(s string) []byte {
	b, err := hex.DecodeString(s)
	errpanic(err)
	return b
}

func exampleParams() *babylon.Params {
	covenants := []string{
		"0aee0509b16db71c999238a4827db945526859b13c95487ab46725357c9a9f25",
		"113c3a32a9d320b72190a04a020a0db3976ef36972673258e9a38a364f3dc3b0",
		"17921cf156ccb4e73d428f996ed11b245313e37e27c978ac4d2cc21eca4672e4",
		"3bb93dfc8b61887d771f3630e9a63e97cbafcfcc78556a474df83a31a0ef899c",
		"40afaf47c4ffa56de86410d8e47baa2bb6f04b604f4ea24323737ddc3fe092df",
		"79a71ffd71c503ef2e2f91bccfc8fcda7946f4653cef0d9f3dde20795ef3b9f0",
		"d21faf78c6751a0d38e6bd8028b907ff07e9a869a43fc837d6b3f8dff6119a36",
		"f5199efae3f28bb82476163a7e458c7ad445d9bffb0682d10d3bdb2cb41f8e8e",
		"fa9d882d45f4060bdb8042183828cd87544f1ea997380e586cab77d5fd698737",
	}
	params := &babylon.Params{
		Action: babylon.ActionStaking,
		FinalityProviders: [][]byte{
			unhex("d66124f8f42fd83e4c901a100ae3b5d706ef6cfd217b04bc64152e739a30c41e"),
		},
		StakerKey:      unhex("dc8d2f9eff0c4f4dbde070a48e330efc908b62a766568d91e658f284b324b878"),
		CovenantQuorum: 6,
		Timelock:       64000,
	}
	for _, key := range covenants {
		params.CovenantKeys = append(params.CovenantKeys, unhex(key))
	}
	return params
}

func main() {
	address := speculos.DefaultAddress
	if len(os.Args) > 1 {
		address = os.Args[1]
	}
	backend, err := logging.NewBackend(os.Stderr, "debug")
	errpanic(err)
	communication, err := speculos.Dial(context.Background(), address)
	errpanic(err)
	defer communication.Close()

	app := babylon.NewApp(communication, backend.Logger(logging.SubsystemHID))
	xor, err := app.XOR([]byte{0x01, 0x02, 0x04})
	errpanic(err)
	fmt.Printf("XOR: %02x\n", xor)

	params := exampleParams()
	stakingAddress, err := params.StakingAddress(&chaincfg.SigNetParams)
	errpanic(err)
	fmt.Printf("Staking address: %s\n", stakingAddress.EncodeAddress())
	errpanic(app.SendParams(params))
	fmt.Println("Params sent")
}
