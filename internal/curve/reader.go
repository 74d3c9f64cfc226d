package curve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"curvescan/internal/chain"
	"curvescan/internal/model"
)

const (
	// rateLimitAttempts bounds the retry loop on throttled account reads.
	rateLimitAttempts = 20
	rateLimitCooldown = time.Second
)

// tokenMetadataProgramID owns the per-mint metadata accounts that carry the
// off-chain metadata URI.
var tokenMetadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

// AccountSource is the chain surface the reader consumes; satisfied by
// *chain.Client.
type AccountSource interface {
	GetAccountData(ctx context.Context, address solana.PublicKey) ([]byte, error)
	GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey) ([]chain.TokenAccountInfo, error)
}

// Reader fetches and decodes bonding-curve state from the chain.
type Reader struct {
	source AccountSource
	logger *zap.Logger

	// cooldown between rate-limited attempts; fixed, never grows.
	cooldown time.Duration
}

func NewReader(source AccountSource, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{source: source, logger: logger, cooldown: rateLimitCooldown}
}

// fetchAccount reads raw account data, retrying only throttled responses.
// Any other failure is permanent and returned at once.
func (r *Reader) fetchAccount(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	var data []byte
	err := chain.WithRetry(ctx, rateLimitAttempts, r.cooldown, func(ctx context.Context) error {
		var err error
		data, err = r.source.GetAccountData(ctx, address)
		if err != nil && !chain.IsRateLimited(err) {
			return chain.Permanent(err)
		}
		return err
	})
	return data, err
}

// FetchBondingCurve reads and decodes one bonding-curve account. Throttled
// reads are retried on a fixed cooldown with a bounded attempt count; any
// other failure is returned as-is and the caller must treat it as "data
// temporarily unavailable", not as proof the curve does not exist.
func (r *Reader) FetchBondingCurve(ctx context.Context, address solana.PublicKey) (*model.BondingCurveAccount, error) {
	data, err := r.fetchAccount(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("fetch bonding curve %s: %w", address, err)
	}

	account, err := DecodeBondingCurve(data)
	if err != nil {
		return nil, fmt.Errorf("bonding curve %s: %w", address, err)
	}
	return account, nil
}

// FetchMintFromBondingCurveATA resolves the mint of the single SPL token
// account a bonding curve owns. Zero or multiple matches violate a protocol
// invariant; that case is warned about and never retried.
func (r *Reader) FetchMintFromBondingCurveATA(ctx context.Context, bondingCurve solana.PublicKey) (solana.PublicKey, bool) {
	var raw []chain.TokenAccountInfo
	err := chain.WithRetry(ctx, rateLimitAttempts, r.cooldown, func(ctx context.Context) error {
		var err error
		raw, err = r.source.GetTokenAccountsByOwner(ctx, bondingCurve)
		if err != nil && !chain.IsRateLimited(err) {
			return chain.Permanent(err)
		}
		return err
	})
	if err != nil {
		r.logger.Warn("token accounts lookup failed",
			zap.String("bonding_curve", bondingCurve.String()),
			zap.Error(err),
		)
		return solana.PublicKey{}, false
	}

	mints := make([]string, 0, len(raw))
	for _, info := range raw {
		mint, err := parseTokenAccountMint(info.Data)
		if err != nil {
			r.logger.Warn("token account parse failed",
				zap.String("bonding_curve", bondingCurve.String()),
				zap.String("account", info.Address.String()),
				zap.Error(err),
			)
			return solana.PublicKey{}, false
		}
		mints = append(mints, mint)
	}

	if len(mints) != 1 {
		r.logger.Warn("bonding curve does not own exactly one token account",
			zap.String("bonding_curve", bondingCurve.String()),
			zap.Int("count", len(mints)),
		)
		return solana.PublicKey{}, false
	}

	mint, err := solana.PublicKeyFromBase58(mints[0])
	if err != nil {
		r.logger.Warn("token account carries invalid mint",
			zap.String("bonding_curve", bondingCurve.String()),
			zap.String("mint", mints[0]),
			zap.Error(err),
		)
		return solana.PublicKey{}, false
	}
	return mint, true
}

// FetchMetadataURI reads the mint's token-metadata account and returns the
// off-chain URI (plus on-chain name/symbol) recorded there. Used by the
// backfill path, which has no create event to take the URI from.
func (r *Reader) FetchMetadataURI(ctx context.Context, mint solana.PublicKey) (name, symbol, uri string, err error) {
	metadataAddress, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("metadata"), tokenMetadataProgramID.Bytes(), mint.Bytes()},
		tokenMetadataProgramID,
	)
	if err != nil {
		return "", "", "", fmt.Errorf("derive metadata address for %s: %w", mint, err)
	}

	data, err := r.fetchAccount(ctx, metadataAddress)
	if err != nil {
		return "", "", "", fmt.Errorf("fetch metadata account %s: %w", metadataAddress, err)
	}

	return decodeMetadataAccount(data)
}

// decodeMetadataAccount extracts name/symbol/uri from a token-metadata
// account: key byte, two 32-byte keys, then three null-padded borsh strings.
func decodeMetadataAccount(data []byte) (name, symbol, uri string, err error) {
	decoder := bin.NewBorshDecoder(data)
	if _, err = decoder.ReadNBytes(1 + 32 + 32); err != nil {
		return "", "", "", fmt.Errorf("metadata account header: %w", err)
	}
	if name, err = decoder.ReadString(); err != nil {
		return "", "", "", fmt.Errorf("metadata name: %w", err)
	}
	if symbol, err = decoder.ReadString(); err != nil {
		return "", "", "", fmt.Errorf("metadata symbol: %w", err)
	}
	if uri, err = decoder.ReadString(); err != nil {
		return "", "", "", fmt.Errorf("metadata uri: %w", err)
	}
	return strings.TrimRight(name, "\x00"), strings.TrimRight(symbol, "\x00"), strings.TrimRight(uri, "\x00"), nil
}

func parseTokenAccountMint(raw json.RawMessage) (string, error) {
	var parsed struct {
		Parsed struct {
			Info struct {
				Mint string `json:"mint"`
			} `json:"info"`
		} `json:"parsed"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", err
	}
	return parsed.Parsed.Info.Mint, nil
}
