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
	"github.com/btcsuite/btcd/btcutil"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

// Fee bounds of unbonding and slashing transactions, in satoshi.
const (
	MinFee btcutil.Amount = 1000
	MaxFee btcutil.Amount = 9000
)

func checkFee(what string, fee btcutil.Amount, limit uint64) error {
	max := MaxFee
	if limit != 0 {
		max = btcutil.Amount(limit)
	}
	if fee < MinFee || fee > max {
		return errp.Newf("%s fee %d sat not within [%d, %d]", what, int64(fee), int64(MinFee), int64(max))
	}
	return nil
}

// CheckUnbondingFee checks the fee of an unbonding transaction.
func (params *Params) CheckUnbondingFee(fee btcutil.Amount) error {
	return checkFee("unbonding", fee, params.UnbondingFeeLimit)
}

// CheckSlashingFee checks the fee of a slashing transaction.
func (params *Params) CheckSlashingFee(fee btcutil.Amount) error {
	return checkFee("slashing", fee, params.SlashingFeeLimit)
}
