package backfill

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"curvescan/internal/chain"
	"curvescan/internal/curve"
	"curvescan/internal/metadata"
	"curvescan/internal/model"
	"curvescan/internal/storage"
)

type stubStore struct {
	records map[string]model.TokenRecord
	failFor map[string]bool
	batches int
}

func newStubStore() *stubStore {
	return &stubStore{
		records: make(map[string]model.TokenRecord),
		failFor: make(map[string]bool),
	}
}

func (s *stubStore) UpsertOne(_ context.Context, record model.TokenRecord) error {
	if s.failFor[record.TokenAddress] {
		return fmt.Errorf("injected write failure for %s", record.TokenAddress)
	}
	s.records[record.TokenAddress] = record
	return nil
}

func (s *stubStore) UpsertBatch(ctx context.Context, records []model.TokenRecord) (storage.UpsertStats, error) {
	s.batches++
	stats := storage.UpsertStats{}
	for _, record := range records {
		if _, exists := s.records[record.TokenAddress]; exists {
			stats.Duplicates++
			continue
		}
		if err := s.UpsertOne(ctx, record); err != nil {
			stats.Errors++
			continue
		}
		stats.Inserted++
	}
	return stats, nil
}

func (s *stubStore) QueryAll(_ context.Context, _ storage.Filter) ([]model.TokenRecord, error) {
	out := make([]model.TokenRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	return out, nil
}

func (s *stubStore) CountAll(_ context.Context) (int64, error) {
	return int64(len(s.records)), nil
}

func (s *stubStore) DistinctBondingCurveAddresses(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record.BondingCurveAddress)
	}
	return out, nil
}

func (s *stubStore) Close() error { return nil }

var (
	addrA = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	addrB = solana.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111")
	addrC = solana.MustPublicKeyFromBase58("Stake11111111111111111111111111111111111111")
)

func TestDiffAddresses(t *testing.T) {
	onChain := []solana.PublicKey{addrA, addrB, addrC}
	persisted := []string{addrA.String()}

	got := diffAddresses(onChain, persisted)
	want := []solana.PublicKey{addrB, addrC}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("delta mismatch: %v != %v", got, want)
	}
}

func TestDiffAddressesNothingNew(t *testing.T) {
	onChain := []solana.PublicKey{addrA, addrB}
	persisted := []string{addrA.String(), addrB.String()}

	if got := diffAddresses(onChain, persisted); len(got) != 0 {
		t.Fatalf("expected empty delta, got %v", got)
	}
}

func TestDiffAddressesEmptyStore(t *testing.T) {
	onChain := []solana.PublicKey{addrA, addrB}

	got := diffAddresses(onChain, nil)
	if !reflect.DeepEqual(got, onChain) {
		t.Fatalf("delta mismatch: %v != %v", got, onChain)
	}
}

func newTestJob(primary, secondary storage.Store, chunkSize int) (*Job, *[]time.Duration) {
	job := NewJob(JobConfig{ChunkSize: chunkSize, ChunkDelay: time.Millisecond},
		nil, nil, nil, primary, secondary, nil)
	delays := &[]time.Duration{}
	job.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return job, delays
}

// stubChain satisfies both CurveEnumerator and curve.AccountSource, the
// two chain surfaces the backfill touches.
type stubChain struct {
	enumCalls  int
	enumErr    error
	enumResult rpc.GetProgramAccountsResult

	accounts   map[solana.PublicKey][]byte
	tokenInfos map[solana.PublicKey][]chain.TokenAccountInfo
}

func (s *stubChain) ListProgramAccounts(_ context.Context, _ solana.PublicKey, _ []byte, _ uint64) (rpc.GetProgramAccountsResult, error) {
	s.enumCalls++
	if s.enumErr != nil {
		return nil, s.enumErr
	}
	return s.enumResult, nil
}

func (s *stubChain) GetAccountData(_ context.Context, address solana.PublicKey) ([]byte, error) {
	if data, ok := s.accounts[address]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("account not found")
}

func (s *stubChain) GetTokenAccountsByOwner(_ context.Context, owner solana.PublicKey) ([]chain.TokenAccountInfo, error) {
	return s.tokenInfos[owner], nil
}

func TestListAllBondingCurvesRateLimitCeiling(t *testing.T) {
	stub := &stubChain{enumErr: fmt.Errorf("server responded: 429 Too Many Requests")}
	job := NewJob(JobConfig{}, stub, nil, nil, newStubStore(), newStubStore(), nil)
	job.cooldown = time.Millisecond

	if _, err := job.ListAllBondingCurves(context.Background()); err == nil {
		t.Fatalf("expected failure after exhausting attempts")
	}
	if stub.enumCalls != 5 {
		t.Fatalf("got %d attempts, want exactly 5", stub.enumCalls)
	}
}

func TestListAllBondingCurvesStopsOnTerminalError(t *testing.T) {
	stub := &stubChain{enumErr: fmt.Errorf("method not available")}
	job := NewJob(JobConfig{}, stub, nil, nil, newStubStore(), newStubStore(), nil)
	job.cooldown = time.Millisecond

	if _, err := job.ListAllBondingCurves(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if stub.enumCalls != 1 {
		t.Fatalf("got %d attempts, want 1: only throttled enumeration retries", stub.enumCalls)
	}
}

func TestRunBackfillsMissingCurves(t *testing.T) {
	account := &model.BondingCurveAccount{
		VirtualTokenReserves: 1073000000000000,
		Complete:             true,
		Creator:              solana.MustPublicKeyFromBase58("SysvarC1ock11111111111111111111111111111111"),
	}
	accountData, err := curve.EncodeBondingCurveAccount(account)
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	// addrA is already persisted; addrB is the missing curve whose token
	// account points at addrC as the mint. The metadata account is absent,
	// so the record persists bare.
	stub := &stubChain{
		enumResult: rpc.GetProgramAccountsResult{
			{Pubkey: addrA},
			{Pubkey: addrB},
		},
		accounts: map[solana.PublicKey][]byte{addrB: accountData},
		tokenInfos: map[solana.PublicKey][]chain.TokenAccountInfo{
			addrB: {{
				Address: addrB,
				Data:    []byte(fmt.Sprintf(`{"parsed":{"info":{"mint":%q}}}`, addrC.String())),
			}},
		},
	}

	primary := newStubStore()
	primary.records["known"] = model.TokenRecord{
		TokenAddress:        "known",
		BondingCurveAddress: addrA.String(),
	}

	reader := curve.NewReader(stub, nil)
	fetcher := metadata.NewFetcher(1, time.Second, nil)
	job := NewJob(JobConfig{BatchSize: 10}, stub, reader, fetcher, primary, newStubStore(), nil)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(primary.records) != 2 {
		t.Fatalf("primary has %d records, want 2", len(primary.records))
	}
	got, ok := primary.records[addrC.String()]
	if !ok {
		t.Fatalf("backfilled token %s not persisted", addrC)
	}
	if got.BondingCurveAddress != addrB.String() {
		t.Fatalf("bonding curve %s, want %s", got.BondingCurveAddress, addrB)
	}
	if !got.Complete {
		t.Fatalf("complete flag lost on backfill")
	}
	if got.Creator != account.Creator.String() {
		t.Fatalf("creator %s, want %s", got.Creator, account.Creator)
	}
	if got.Name != "" || got.URI != "" {
		t.Fatalf("absent metadata should leave descriptive fields empty: %+v", got)
	}
}
