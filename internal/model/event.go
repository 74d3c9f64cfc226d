package model

import (
	"github.com/gagliardetto/solana-go"
)

// CreateEvent is the decoded payload of a bonding-curve create event.
// Field order matches the on-chain borsh layout and must not change.
type CreateEvent struct {
	Name                 string           `json:"name"`
	Symbol               string           `json:"symbol"`
	URI                  string           `json:"uri"`
	Mint                 solana.PublicKey `json:"mint"`
	BondingCurve         solana.PublicKey `json:"bonding_curve"`
	User                 solana.PublicKey `json:"user"`
	Creator              solana.PublicKey `json:"creator"`
	Timestamp            int64            `json:"timestamp"`
	VirtualTokenReserves uint64           `json:"virtual_token_reserves,string"`
	VirtualSolReserves   uint64           `json:"virtual_sol_reserves,string"`
	RealTokenReserves    uint64           `json:"real_token_reserves,string"`
	TokenTotalSupply     uint64           `json:"token_total_supply,string"`
}

// BondingCurveAccount is the decoded state of a bonding-curve account.
// It mutates on-chain and is re-fetched on demand, never cached.
type BondingCurveAccount struct {
	VirtualTokenReserves uint64           `json:"virtual_token_reserves,string"`
	VirtualSolReserves   uint64           `json:"virtual_sol_reserves,string"`
	RealTokenReserves    uint64           `json:"real_token_reserves,string"`
	RealSolReserves      uint64           `json:"real_sol_reserves,string"`
	TokenTotalSupply     uint64           `json:"token_total_supply,string"`
	Complete             bool             `json:"complete"`
	Creator              solana.PublicKey `json:"creator"`
}
