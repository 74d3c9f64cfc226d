package model

import (
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// SafeString converts a value read back from a store into its canonical
// string form. Only the closed set of types the stores can produce is
// accepted: strings, integers, byte buffers (base58-encoded, the form raw
// account keys take), and public keys. Anything else is an error rather
// than a lossy best-effort conversion.
func SafeString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return base58.Encode(v), nil
	case solana.PublicKey:
		return v.String(), nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %T", value)
	}
}

// NormalizeRecord re-derives every string field of a record through
// SafeString so cross-store copies always carry plain strings.
func NormalizeRecord(record TokenRecord) (TokenRecord, error) {
	fields := []*string{
		&record.BondingCurveAddress,
		&record.TokenAddress,
		&record.Creator,
		&record.Name,
		&record.Symbol,
		&record.URI,
		&record.Description,
		&record.Image,
	}
	for _, field := range fields {
		normalized, err := SafeString(*field)
		if err != nil {
			return TokenRecord{}, err
		}
		*field = normalized
	}
	return record, nil
}
