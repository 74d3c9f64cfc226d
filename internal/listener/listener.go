package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/ws"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"curvescan/internal/chain"
	"curvescan/internal/curve"
	"curvescan/internal/metadata"
	"curvescan/internal/model"
	"curvescan/internal/storage"
)

// State is the listener lifecycle phase.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const (
	// resubscribeAttempts bounds recovery after a dropped websocket; the
	// delay doubles from resubscribeDelay between attempts.
	resubscribeAttempts = 5
)

// LogStream is the subset of the websocket subscription the listener
// consumes; satisfied by *ws.LogSubscription.
type LogStream interface {
	Recv(ctx context.Context) (*ws.LogResult, error)
	Unsubscribe()
}

// Config holds the listener's runtime settings.
type Config struct {
	// Program is the bonding-curve program whose logs are subscribed.
	Program solana.PublicKey
	// FlushInterval is the secondary-store drain period.
	FlushInterval time.Duration
	// PoolSize caps concurrently running event pipelines. Zero or
	// negative runs pipelines inline (used in tests).
	PoolSize int
	// DedupeSize is the capacity of the recently-seen mint cache.
	DedupeSize int
}

// Listener owns the log subscription and drives each matching line through
// decode -> enrich -> dual-store write. One event's failure never
// terminates the subscription; a dropped subscription is re-established
// with bounded backoff, and only exhaustion of that is fatal.
type Listener struct {
	cfg       Config
	fetcher   *metadata.Fetcher
	primary   storage.Store
	secondary storage.Store
	queue     *Queue
	logger    *zap.Logger

	// subscribe opens a fresh log subscription; swapped out in tests.
	subscribe        func() (LogStream, error)
	resubscribeDelay time.Duration

	state      atomic.Int32
	subMu      sync.Mutex
	sub        LogStream
	pool       *ants.Pool
	seen       *lru.Cache[string, struct{}]
	ticker     *time.Ticker
	fatal      chan error
	cancelRun  context.CancelFunc
	pipeCtx    context.Context
	cancelPipe context.CancelFunc
	wg         sync.WaitGroup
}

func New(cfg Config, chainClient *chain.Client, fetcher *metadata.Fetcher, primary, secondary storage.Store, logger *zap.Logger) (*Listener, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Minute
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = 4096
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	seen, err := lru.New[string, struct{}](cfg.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("dedupe cache: %w", err)
	}

	l := &Listener{
		cfg:              cfg,
		fetcher:          fetcher,
		primary:          primary,
		secondary:        secondary,
		queue:            NewQueue(),
		seen:             seen,
		logger:           logger,
		fatal:            make(chan error, 1),
		resubscribeDelay: time.Second,
	}
	if chainClient != nil {
		l.subscribe = func() (LogStream, error) {
			sub, err := chainClient.SubscribeLogs(cfg.Program)
			if err != nil {
				return nil, err
			}
			return sub, nil
		}
	}
	return l, nil
}

// State returns the current lifecycle phase.
func (l *Listener) State() State {
	return State(l.state.Load())
}

// Queue exposes the secondary-store backlog, mainly for shutdown reporting.
func (l *Listener) Queue() *Queue {
	return l.queue
}

// Done delivers the error that permanently ended ingestion while the
// listener was supposed to be running. The caller should Stop and exit so
// a supervisor can restart the process.
func (l *Listener) Done() <-chan error {
	return l.fatal
}

// Start opens the log subscription and launches the receive and flush
// loops. A subscription failure here is fatal to the caller.
func (l *Listener) Start(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("listener is %s, not stopped", l.State())
	}
	if l.subscribe == nil {
		l.state.Store(int32(StateStopped))
		return fmt.Errorf("no subscription source configured")
	}

	sub, err := l.subscribe()
	if err != nil {
		l.state.Store(int32(StateStopped))
		return fmt.Errorf("subscribe logs: %w", err)
	}
	l.setStream(sub)

	if l.cfg.PoolSize > 0 {
		pool, err := ants.NewPool(l.cfg.PoolSize, ants.WithNonblocking(false))
		if err != nil {
			sub.Unsubscribe()
			l.state.Store(int32(StateStopped))
			return fmt.Errorf("pipeline pool: %w", err)
		}
		l.pool = pool
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	l.cancelRun = cancelRun
	// Pipelines get their own context so in-flight enrichment can finish
	// during shutdown while the loops wind down.
	l.pipeCtx, l.cancelPipe = context.WithCancel(context.Background())
	l.ticker = time.NewTicker(l.cfg.FlushInterval)

	l.state.Store(int32(StateListening))
	l.logger.Info("listener started",
		zap.String("program", l.cfg.Program.String()),
		zap.Duration("flush_interval", l.cfg.FlushInterval),
		zap.Int("pool_size", l.cfg.PoolSize),
	)

	l.wg.Add(2)
	go l.receiveLoop(runCtx)
	go l.flushLoop(runCtx)
	return nil
}

// Stop tears the listener down in order: unsubscribe first so no new
// events arrive, then the flush timer, then a final synchronous drain of
// the secondary-store queue.
func (l *Listener) Stop(ctx context.Context) {
	if !l.state.CompareAndSwap(int32(StateListening), int32(StateStopping)) {
		return
	}
	l.logger.Info("listener stopping")

	if sub := l.stream(); sub != nil {
		sub.Unsubscribe()
	}
	l.ticker.Stop()
	l.cancelRun()
	l.wg.Wait()

	if l.pool != nil {
		if err := l.pool.ReleaseTimeout(30 * time.Second); err != nil {
			l.logger.Warn("pipeline pool did not drain in time", zap.Error(err))
		}
	}
	l.cancelPipe()

	flushed, requeued := l.queue.Flush(ctx, l.secondary, l.logger)
	l.logger.Info("final secondary flush",
		zap.Int("flushed", flushed),
		zap.Int("requeued", requeued),
	)

	l.state.Store(int32(StateStopped))
	l.logger.Info("listener stopped")
}

func (l *Listener) stream() LogStream {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	return l.sub
}

func (l *Listener) setStream(sub LogStream) {
	l.subMu.Lock()
	old := l.sub
	l.sub = sub
	l.subMu.Unlock()
	if old != nil {
		old.Unsubscribe()
	}
}

func (l *Listener) receiveLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		got, err := l.stream().Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || l.State() != StateListening {
				return
			}
			l.logger.Warn("log subscription receive failed", zap.Error(err))
			if err := l.resubscribe(ctx); err != nil {
				if ctx.Err() != nil || l.State() != StateListening {
					return
				}
				l.logger.Error("log subscription could not be restored", zap.Error(err))
				l.fail(fmt.Errorf("log subscription lost: %w", err))
				return
			}
			l.logger.Info("log subscription restored")
			continue
		}
		if got == nil {
			continue
		}
		// Logs of failed transactions never committed a create event.
		if got.Value.Err != nil {
			continue
		}
		l.HandleLogs(got.Value.Signature.String(), got.Value.Logs)
	}
}

// resubscribe replaces a dead subscription, backing off between attempts.
func (l *Listener) resubscribe(ctx context.Context) error {
	return chain.WithBackoff(ctx, resubscribeAttempts, l.resubscribeDelay, func(context.Context) error {
		sub, err := l.subscribe()
		if err != nil {
			return err
		}
		l.setStream(sub)
		return nil
	})
}

// fail reports the terminal error without ever blocking the loop.
func (l *Listener) fail(err error) {
	select {
	case l.fatal <- err:
	default:
	}
}

// HandleLogs dispatches every line of one delivered batch. Lines are
// inspected in delivery order; matched events run their pipelines
// independently and may complete out of order.
func (l *Listener) HandleLogs(signature string, lines []string) {
	for _, line := range lines {
		l.handleLine(signature, line)
	}
}

func (l *Listener) handleLine(signature, line string) {
	event, err := curve.TryDecodeCreateEvent(line)
	if err != nil {
		if !errors.Is(err, curve.ErrNotCreateEvent) {
			l.logger.Warn("malformed create event payload",
				zap.String("signature", signature),
				zap.Error(err),
			)
		}
		return
	}

	mint := event.Mint.String()
	if _, dup := l.seen.Get(mint); dup {
		l.logger.Debug("duplicate create event dropped", zap.String("mint", mint))
		return
	}
	l.seen.Add(mint, struct{}{})

	task := func() { l.processEvent(event) }
	if l.pool == nil {
		task()
		return
	}
	if err := l.pool.Submit(task); err != nil {
		l.logger.Warn("event pipeline dispatch failed",
			zap.String("mint", mint),
			zap.Error(err),
		)
		l.seen.Remove(mint)
	}
}

// processEvent runs one event's enrich-and-persist pipeline. Metadata
// absence is tolerated; a primary-store failure loses the event until a
// later backfill recovers it.
func (l *Listener) processEvent(event *model.CreateEvent) {
	ctx := l.pipeCtx
	if ctx == nil {
		ctx = context.Background()
	}

	meta := l.fetcher.Fetch(ctx, event.URI)
	record := model.NewTokenRecord(event, meta, time.Now().UTC())

	if err := l.primary.UpsertOne(ctx, record); err != nil {
		l.logger.Error("primary store write failed",
			zap.String("mint", record.TokenAddress),
			zap.Error(err),
		)
		return
	}
	l.queue.Enqueue(record)

	l.logger.Info("token indexed",
		zap.String("mint", record.TokenAddress),
		zap.String("bonding_curve", record.BondingCurveAddress),
		zap.String("name", record.Name),
		zap.String("symbol", record.Symbol),
	)
}

func (l *Listener) flushLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.ticker.C:
			flushed, requeued := l.queue.Flush(ctx, l.secondary, l.logger)
			if flushed+requeued > 0 {
				l.logger.Info("secondary flush",
					zap.Int("flushed", flushed),
					zap.Int("requeued", requeued),
				)
			}
		}
	}
}
