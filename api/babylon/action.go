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

// Package babylon contains the host side of the Babylon staking app: the parameters sent to the
// device, the staking scripts the device checks transactions against, and a client for the app's
// custom APDUs.
package babylon

import (
	"fmt"

	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

// Action is the kind of Babylon transaction or message being signed.
type Action uint8

// Actions as encoded in the TLV parameters.
const (
	ActionStaking           Action = 1
	ActionUnbond            Action = 2
	ActionSlashing          Action = 3
	ActionUnbondingSlashing Action = 4
	ActionWithdraw          Action = 5
	ActionSignMessage       Action = 6
)

var policyNames = map[Action]string{
	ActionStaking:           "Staking transaction",
	ActionUnbond:            "Unbonding",
	ActionSlashing:          "Consent to slashing",
	ActionUnbondingSlashing: "Consent to unbonding slashing",
	ActionWithdraw:          "Withdraw",
	ActionSignMessage:       "Sign message",
}

// PolicyName returns the name of the wallet policy the app registers for this action.
func (action Action) PolicyName() string {
	return policyNames[action]
}

// Valid returns true for the known actions.
func (action Action) Valid() bool {
	_, ok := policyNames[action]
	return ok
}

func (action Action) String() string {
	if name, ok := policyNames[action]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", uint8(action))
}

// ActionFromPolicyName maps a wallet policy name back to its action.
func ActionFromPolicyName(name string) (Action, error) {
	for action, policyName := range policyNames {
		if policyName == name {
			return action, nil
		}
	}
	return 0, errp.Newf("unknown policy name %q", name)
}
