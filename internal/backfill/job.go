package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"curvescan/internal/chain"
	"curvescan/internal/curve"
	"curvescan/internal/metadata"
	"curvescan/internal/model"
	"curvescan/internal/storage"
)

// CurveEnumerator is the bulk-enumeration surface of the chain client;
// satisfied by *chain.Client.
type CurveEnumerator interface {
	ListProgramAccounts(ctx context.Context, program solana.PublicKey, discriminator []byte, dataSize uint64) (rpc.GetProgramAccountsResult, error)
}

const (
	// DefaultBatchSize is how many assembled records are buffered before
	// one batched insert-or-update call.
	DefaultBatchSize = 100
	// DefaultChunkSize is the per-chunk row count for store-to-store sync.
	DefaultChunkSize = 1000
	// DefaultChunkDelay bounds the load a sync puts on either store.
	DefaultChunkDelay = 200 * time.Millisecond

	enumerateAttempts = 5
	enumerateCooldown = time.Second
)

// JobConfig holds runtime settings for the backfill job.
type JobConfig struct {
	Program    solana.PublicKey
	BatchSize  int
	ChunkSize  int
	ChunkDelay time.Duration
}

// Job recovers tokens the live listener missed: it enumerates every
// bonding-curve account on-chain, diffs against the primary store, and
// runs the same enrich-and-persist path per discovered address. It also
// reconciles the two stores by bulk copy.
type Job struct {
	enumerator CurveEnumerator
	reader     *curve.Reader
	fetcher    *metadata.Fetcher
	primary    storage.Store
	secondary  storage.Store
	logger     *zap.Logger

	program    solana.PublicKey
	batchSize  int
	chunkSize  int
	chunkDelay time.Duration

	// cooldown between rate-limited enumeration attempts.
	cooldown time.Duration
	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewJob(cfg JobConfig, enumerator CurveEnumerator, reader *curve.Reader, fetcher *metadata.Fetcher, primary, secondary storage.Store, logger *zap.Logger) *Job {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkDelay <= 0 {
		cfg.ChunkDelay = DefaultChunkDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		enumerator: enumerator,
		reader:     reader,
		fetcher:    fetcher,
		primary:    primary,
		secondary:  secondary,
		logger:     logger,
		program:    cfg.Program,
		batchSize:  cfg.BatchSize,
		chunkSize:  cfg.ChunkSize,
		chunkDelay: cfg.ChunkDelay,
		cooldown:   enumerateCooldown,
		sleep:      chain.Sleep,
	}
}

// ListAllBondingCurves enumerates every bonding-curve account currently
// on-chain via one bulk call filtered by discriminator and exact size.
// Rate-limit responses are retried a bounded number of times; any other
// failure is permanent.
func (j *Job) ListAllBondingCurves(ctx context.Context) ([]solana.PublicKey, error) {
	var result rpc.GetProgramAccountsResult
	err := chain.WithRetry(ctx, enumerateAttempts, j.cooldown, func(ctx context.Context) error {
		var err error
		result, err = j.enumerator.ListProgramAccounts(ctx, j.program, curve.BondingCurveDiscriminator(), curve.BondingCurveAccountSize)
		if err != nil && !chain.IsRateLimited(err) {
			return chain.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate bonding curves: %w", err)
	}

	addresses := make([]solana.PublicKey, 0, len(result))
	for _, keyed := range result {
		if keyed != nil {
			addresses = append(addresses, keyed.Pubkey)
		}
	}
	return addresses, nil
}

// Run executes one backfill pass: enumerate, diff, process the delta in
// batches. A failure on one address is logged and skipped, never aborting
// the loop.
func (j *Job) Run(ctx context.Context) error {
	onChain, err := j.ListAllBondingCurves(ctx)
	if err != nil {
		return err
	}

	persisted, err := j.primary.DistinctBondingCurveAddresses(ctx)
	if err != nil {
		return fmt.Errorf("load persisted bonding curves: %w", err)
	}

	pending := diffAddresses(onChain, persisted)
	total := len(pending)
	j.logger.Info("backfill delta computed",
		zap.Int("on_chain", len(onChain)),
		zap.Int("persisted", len(persisted)),
		zap.Int("pending", total),
	)
	if total == 0 {
		return nil
	}

	batch := make([]model.TokenRecord, 0, j.batchSize)
	processed := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		stats, err := j.primary.UpsertBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("backfill batch write: %w", err)
		}
		processed += len(batch)
		batch = batch[:0]
		j.logger.Info("backfill progress",
			zap.Int("processed", processed),
			zap.Int("total", total),
			zap.Int("inserted", stats.Inserted),
			zap.Int("duplicates", stats.Duplicates),
			zap.Int("errors", stats.Errors),
		)
		return nil
	}

	for _, address := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		record, err := j.buildRecord(ctx, address)
		if err != nil {
			j.logger.Warn("backfill address skipped",
				zap.String("bonding_curve", address.String()),
				zap.Error(err),
			)
			continue
		}
		batch = append(batch, *record)

		if len(batch) >= j.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	return flush()
}

// buildRecord re-derives one token from chain state: curve account, mint
// resolution, metadata URI, then off-chain enrichment.
func (j *Job) buildRecord(ctx context.Context, address solana.PublicKey) (*model.TokenRecord, error) {
	account, err := j.reader.FetchBondingCurve(ctx, address)
	if err != nil {
		return nil, err
	}

	mint, ok := j.reader.FetchMintFromBondingCurveATA(ctx, address)
	if !ok {
		return nil, fmt.Errorf("mint resolution failed")
	}

	now := time.Now().UTC()
	record := model.TokenRecord{
		BondingCurveAddress: address.String(),
		TokenAddress:        mint.String(),
		Complete:            account.Complete,
		Creator:             account.Creator.String(),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	name, symbol, uri, err := j.reader.FetchMetadataURI(ctx, mint)
	if err != nil {
		// Metadata absence is tolerated; the token persists bare.
		j.logger.Debug("on-chain metadata unavailable",
			zap.String("mint", mint.String()),
			zap.Error(err),
		)
		return &record, nil
	}
	record.Name = name
	record.Symbol = symbol
	record.URI = uri

	if meta := j.fetcher.Fetch(ctx, uri); meta != nil {
		if record.Name == "" {
			record.Name = meta.Name
		}
		if record.Symbol == "" {
			record.Symbol = meta.Symbol
		}
		record.Description = meta.Description
		record.Image = meta.Image
	}

	return &record, nil
}

// diffAddresses returns the on-chain addresses missing from the persisted
// set, preserving enumeration order.
func diffAddresses(onChain []solana.PublicKey, persisted []string) []solana.PublicKey {
	known := make(map[string]struct{}, len(persisted))
	for _, address := range persisted {
		known[address] = struct{}{}
	}

	var pending []solana.PublicKey
	for _, address := range onChain {
		if _, ok := known[address.String()]; ok {
			continue
		}
		pending = append(pending, address)
	}
	return pending
}
