package curve

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"curvescan/internal/model"
)

// bondingCurveDiscriminator prefixes every bonding-curve account blob.
var bondingCurveDiscriminator = [8]byte{23, 183, 248, 55, 96, 216, 172, 96}

// BondingCurveAccountSize is the exact byte size of a bonding-curve
// account: 8-byte discriminator, five u64 fields, a bool, and a 32-byte
// creator key. Used as the getProgramAccounts dataSize filter.
const BondingCurveAccountSize = 8 + 5*8 + 1 + 32

// BondingCurveDiscriminator returns the account discriminator for
// memcmp-filtered enumeration.
func BondingCurveDiscriminator() []byte {
	disc := bondingCurveDiscriminator
	return disc[:]
}

// DecodeBondingCurve decodes a raw bonding-curve account blob.
func DecodeBondingCurve(data []byte) (*model.BondingCurveAccount, error) {
	if len(data) < len(bondingCurveDiscriminator) {
		return nil, fmt.Errorf("account data too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:len(bondingCurveDiscriminator)], bondingCurveDiscriminator[:]) {
		return nil, fmt.Errorf("unexpected account discriminator")
	}

	var account model.BondingCurveAccount
	if err := bin.UnmarshalBorsh(&account, data[len(bondingCurveDiscriminator):]); err != nil {
		return nil, fmt.Errorf("decode bonding curve account: %w", err)
	}

	return &account, nil
}

// EncodeBondingCurveAccount renders account state back into its on-chain
// byte layout. Fixture helper, mirroring EncodeCreateEventLog.
func EncodeBondingCurveAccount(account *model.BondingCurveAccount) ([]byte, error) {
	payload, err := bin.MarshalBorsh(account)
	if err != nil {
		return nil, fmt.Errorf("encode bonding curve account: %w", err)
	}
	return append(append([]byte{}, bondingCurveDiscriminator[:]...), payload...), nil
}
