package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"curvescan/internal/backfill"
	"curvescan/internal/chain"
	"curvescan/internal/config"
	"curvescan/internal/curve"
	"curvescan/internal/listener"
	"curvescan/internal/metadata"
	"curvescan/internal/storage"
	"curvescan/internal/storage/postgres"
	"curvescan/internal/storage/sqlite"
)

func main() {
	root := &cobra.Command{
		Use:          "curvescan",
		Short:        "Bonding-curve token indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("rpc", "", "Solana RPC URL")
	root.PersistentFlags().String("ws", "", "Solana websocket URL")
	root.PersistentFlags().String("program", config.DefaultProgram, "bonding-curve program address")
	root.PersistentFlags().String("pg-dsn", "", "Postgres DSN (primary store)")
	root.PersistentFlags().String("sqlite-path", "./data/tokens.db", "SQLite path (secondary store)")
	root.PersistentFlags().Int("metadata-retries", 5, "metadata fetch attempts per URI")
	root.PersistentFlags().Duration("metadata-timeout", 10*time.Second, "metadata fetch timeout")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Run the live log-subscription listener",
		RunE:  runListen,
	}
	listenCmd.Flags().Duration("flush-interval", 5*time.Minute, "secondary store flush interval")
	listenCmd.Flags().Int("pool-size", 64, "max concurrent event pipelines")
	listenCmd.Flags().Int("dedupe-size", 4096, "recently-seen mint cache size")
	root.AddCommand(listenCmd)

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Reconcile on-chain bonding curves against the primary store",
		RunE:  runBackfill,
	}
	backfillCmd.Flags().Int("batch-size", 100, "records per batched write")
	backfillCmd.Flags().Bool("watch", false, "keep running on a schedule")
	backfillCmd.Flags().Duration("every", time.Hour, "watch-mode interval")
	root.AddCommand(backfillCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Bulk-copy one store into the other",
		RunE:  runSync,
	}
	syncCmd.Flags().String("direction", "primary-to-secondary", "primary-to-secondary or secondary-to-primary")
	syncCmd.Flags().Int("chunk-size", 1000, "rows per sync chunk")
	syncCmd.Flags().Duration("chunk-delay", 200*time.Millisecond, "pause between sync chunks")
	root.AddCommand(syncCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report the cross-store row-count delta",
		RunE:  runStatus,
	}
	root.AddCommand(statusCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// deps bundles the wiring shared by every subcommand.
type deps struct {
	cfg       config.Config
	logger    *zap.Logger
	chain     *chain.Client
	program   solana.PublicKey
	primary   *postgres.Store
	secondary *sqlite.Store
	fetcher   *metadata.Fetcher
}

func (d *deps) close() {
	if d.secondary != nil {
		d.secondary.Close()
	}
	if d.primary != nil {
		d.primary.Close()
	}
	if d.chain != nil {
		d.chain.Close()
	}
	if d.logger != nil {
		d.logger.Sync()
	}
}

func buildDeps(ctx context.Context, cmd *cobra.Command, needWS bool) (*deps, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if needWS && cfg.WSURL == "" {
		return nil, fmt.Errorf("ws url is required")
	}
	if cfg.PGDSN == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}

	program, err := solana.PublicKeyFromBase58(cfg.Program)
	if err != nil {
		return nil, fmt.Errorf("parse program address: %w", err)
	}

	wsURL := cfg.WSURL
	if !needWS {
		wsURL = ""
	}
	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, wsURL)
	if err != nil {
		return nil, fmt.Errorf("connect chain: %w", err)
	}

	primary, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		chainClient.Close()
		return nil, fmt.Errorf("open primary store: %w", err)
	}

	secondary, err := sqlite.NewStore(cfg.SQLitePath)
	if err != nil {
		primary.Close()
		chainClient.Close()
		return nil, fmt.Errorf("open secondary store: %w", err)
	}

	return &deps{
		cfg:       cfg,
		logger:    logger,
		chain:     chainClient,
		program:   program,
		primary:   primary,
		secondary: secondary,
		fetcher:   metadata.NewFetcher(cfg.MetadataRetries, cfg.MetadataTimeout, logger),
	}, nil
}

func runListen(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer d.close()

	l, err := listener.New(listener.Config{
		Program:       d.program,
		FlushInterval: d.cfg.FlushInterval,
		PoolSize:      d.cfg.PoolSize,
		DedupeSize:    d.cfg.DedupeSize,
	}, d.chain, d.fetcher, d.primary, d.secondary, d.logger)
	if err != nil {
		return err
	}

	if err := l.Start(ctx); err != nil {
		return err
	}

	// Exit on a signal, or when the listener reports ingestion is
	// permanently dead so a supervisor can restart the process.
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-l.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	l.Stop(shutdownCtx)
	return runErr
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer d.close()

	job := newJob(d)

	if !d.cfg.Watch {
		return job.Run(ctx)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(d.cfg.Every),
		gocron.NewTask(func() {
			if err := job.Run(ctx); err != nil {
				d.logger.Error("scheduled backfill failed", zap.Error(err))
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule backfill: %w", err)
	}

	d.logger.Info("backfill watch started", zap.Duration("every", d.cfg.Every))
	scheduler.Start()
	<-ctx.Done()
	return scheduler.Shutdown()
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer d.close()

	job := newJob(d)

	var run func(context.Context) (storage.UpsertStats, error)
	switch d.cfg.Direction {
	case "primary-to-secondary":
		run = job.SyncPrimaryToSecondary
	case "secondary-to-primary":
		run = job.SyncSecondaryToPrimary
	default:
		return fmt.Errorf("unknown sync direction %q", d.cfg.Direction)
	}

	result, err := run(ctx)
	if err != nil {
		return err
	}
	d.logger.Info("sync complete",
		zap.String("direction", d.cfg.Direction),
		zap.Int("inserted", result.Inserted),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("errors", result.Errors),
	)
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer d.close()

	status, err := newJob(d).CheckSyncStatus(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("primary=%d secondary=%d delta=%d\n", status.Primary, status.Secondary, status.Delta)
	return nil
}

func newJob(d *deps) *backfill.Job {
	reader := curve.NewReader(d.chain, d.logger)
	return backfill.NewJob(backfill.JobConfig{
		Program:    d.program,
		BatchSize:  d.cfg.BatchSize,
		ChunkSize:  d.cfg.ChunkSize,
		ChunkDelay: d.cfg.ChunkDelay,
	}, d.chain, reader, d.fetcher, d.primary, d.secondary, d.logger)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
