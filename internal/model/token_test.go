package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
)

func TestCreateEventJSONStringReserves(t *testing.T) {
	event := CreateEvent{
		Name:                 "Test",
		Symbol:               "TST",
		VirtualTokenReserves: 1073000000000000,
		VirtualSolReserves:   30000000000,
		RealTokenReserves:    793100000000000,
		TokenTotalSupply:     1000000000000000,
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	for _, key := range []string{"virtual_token_reserves", "virtual_sol_reserves", "real_token_reserves", "token_total_supply"} {
		if _, ok := decoded[key].(string); !ok {
			t.Fatalf("%s should be a decimal string", key)
		}
	}
}

func TestNewTokenRecordFromEvent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := &CreateEvent{
		Name:         "Chain Name",
		Symbol:       "CHN",
		URI:          "https://example.com/meta.json",
		Mint:         solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),
		BondingCurve: solana.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111"),
		Creator:      solana.MustPublicKeyFromBase58("Stake11111111111111111111111111111111111111"),
	}
	meta := &TokenMetadata{
		Name:        "Off-chain Name",
		Symbol:      "OFF",
		Description: "desc",
		Image:       "https://cdn.example/i.png",
	}

	record := NewTokenRecord(event, meta, now)

	if record.TokenAddress != event.Mint.String() {
		t.Fatalf("token address mismatch")
	}
	if record.BondingCurveAddress != event.BondingCurve.String() {
		t.Fatalf("bonding curve address mismatch")
	}
	if record.Complete {
		t.Fatalf("new record must start incomplete")
	}
	// On-chain name/symbol win over the metadata document.
	if record.Name != "Chain Name" || record.Symbol != "CHN" {
		t.Fatalf("event fields should take precedence: %+v", record)
	}
	if record.Description != "desc" || record.Image != "https://cdn.example/i.png" {
		t.Fatalf("descriptive fields should come from metadata: %+v", record)
	}
	if !record.CreatedAt.Equal(now) || !record.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps not set")
	}
}

func TestNewTokenRecordNilMetadata(t *testing.T) {
	event := &CreateEvent{
		Mint:         solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),
		BondingCurve: solana.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111"),
	}

	record := NewTokenRecord(event, nil, time.Now())
	if record.Description != "" || record.Image != "" {
		t.Fatalf("nil metadata should leave descriptive fields empty")
	}
}

func TestNewTokenRecordFallsBackToMetadataNames(t *testing.T) {
	event := &CreateEvent{
		Mint:         solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),
		BondingCurve: solana.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111"),
	}
	meta := &TokenMetadata{Name: DefaultTokenName, Symbol: DefaultTokenSymbol}

	record := NewTokenRecord(event, meta, time.Now())
	if record.Name != DefaultTokenName || record.Symbol != DefaultTokenSymbol {
		t.Fatalf("empty event names should fall back to metadata: %+v", record)
	}
}
