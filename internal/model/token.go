package model

import (
	"time"
)

const (
	// DefaultTokenName is used when a metadata document omits the name.
	DefaultTokenName = "Unknown Token"
	// DefaultTokenSymbol is used when a metadata document omits the symbol.
	DefaultTokenSymbol = "UNKNOWN"
)

// TokenMetadata holds descriptive fields fetched from an off-chain URI.
type TokenMetadata struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	URI         string `json:"uri"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// TokenRecord is the persisted unit: one indexed token per bonding curve.
// BondingCurveAddress and TokenAddress are each globally unique; writes are
// upsert-by-key and Complete only ever transitions false -> true.
type TokenRecord struct {
	BondingCurveAddress string    `json:"bonding_curve_address"`
	TokenAddress        string    `json:"token_address"`
	Complete            bool      `json:"complete"`
	Creator             string    `json:"creator"`
	Name                string    `json:"name"`
	Symbol              string    `json:"symbol"`
	URI                 string    `json:"uri"`
	Description         string    `json:"description"`
	Image               string    `json:"image"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewTokenRecord merges a decoded create event with optional off-chain
// metadata. A nil metadata leaves the descriptive fields empty rather than
// dropping the token.
func NewTokenRecord(event *CreateEvent, meta *TokenMetadata, now time.Time) TokenRecord {
	record := TokenRecord{
		BondingCurveAddress: event.BondingCurve.String(),
		TokenAddress:        event.Mint.String(),
		Complete:            false,
		Creator:             event.Creator.String(),
		Name:                event.Name,
		Symbol:              event.Symbol,
		URI:                 event.URI,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if meta != nil {
		if record.Name == "" {
			record.Name = meta.Name
		}
		if record.Symbol == "" {
			record.Symbol = meta.Symbol
		}
		record.Description = meta.Description
		record.Image = meta.Image
	}

	return record
}
