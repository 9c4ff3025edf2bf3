package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0xmhha/evm-block-extractor/internal/config"
	"github.com/0xmhha/evm-block-extractor/internal/logger"
	"github.com/0xmhha/evm-block-extractor/pkg/api"
	"github.com/0xmhha/evm-block-extractor/pkg/extract"
	"github.com/0xmhha/evm-block-extractor/pkg/rpc"
	"github.com/0xmhha/evm-block-extractor/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// flags holds the command-line values; only flags given explicitly
// override the file and environment.
type flags struct {
	configFile  string
	showVersion bool

	rpcEndpoint    string
	updateEndpoint string
	batchSize      int
	retryDelay     time.Duration
	maxRetries     int

	storageType string
	dbPath      string
	redisAddr   string
	postgresDSN string

	genesis         uint64
	follow          bool
	pollInterval    time.Duration
	gapRecovery     bool
	resetOnMismatch bool
	skipValidation  bool

	enableAPI bool
	apiHost   string
	apiPort   int
	metrics   bool

	logLevel  string
	logFormat string

	set map[string]bool
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML)")
	flag.BoolVar(&f.showVersion, "version", false, "Show version information and exit")

	flag.StringVar(&f.rpcEndpoint, "rpc", "", "Ethereum JSON-RPC endpoint URL")
	flag.StringVar(&f.updateEndpoint, "update-rpc", "", "Endpoint for state-changing calls (defaults to -rpc)")
	flag.IntVar(&f.batchSize, "batch-size", 0, "Number of blocks fetched and persisted together")
	flag.DurationVar(&f.retryDelay, "retry-delay", 0, "Delay between attempts of a failed batch")
	flag.IntVar(&f.maxRetries, "max-retries", 0, "Attempts per batch (0 still attempts once)")

	flag.StringVar(&f.storageType, "storage", "", "Storage backend (memory, pebble, bbolt, redis, postgres)")
	flag.StringVar(&f.dbPath, "db", "", "Database path for pebble or bbolt")
	flag.StringVar(&f.redisAddr, "redis-addr", "", "Redis address for the redis backend")
	flag.StringVar(&f.postgresDSN, "postgres-dsn", "", "Connection string for the postgres backend")

	flag.Uint64Var(&f.genesis, "genesis", 0, "First block collected into an empty store")
	flag.BoolVar(&f.follow, "follow", false, "Keep collecting new blocks until interrupted")
	flag.DurationVar(&f.pollInterval, "poll-interval", 0, "Delay between runs with -follow")
	flag.BoolVar(&f.gapRecovery, "gap-recovery", false, "Fill missing blocks below the stored head at startup")
	flag.BoolVar(&f.resetOnMismatch, "reset-on-mismatch", false, "Clear the store if it holds another chain")
	flag.BoolVar(&f.skipValidation, "skip-chain-validation", false, "Persist blocks without parent hash checks")

	flag.BoolVar(&f.enableAPI, "api", false, "Enable the read API server")
	flag.StringVar(&f.apiHost, "api-host", "", "API server host")
	flag.IntVar(&f.apiPort, "api-port", 0, "API server port")
	flag.BoolVar(&f.metrics, "metrics", false, "Expose Prometheus metrics on the API server")

	flag.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.logFormat, "log-format", "", "Log format (json, console)")
	flag.Parse()

	f.set = make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f
}

// apply copies explicitly given flags onto cfg
func (f *flags) apply(cfg *config.Config) {
	if f.set["rpc"] {
		cfg.RPC.Endpoint = f.rpcEndpoint
	}
	if f.set["update-rpc"] {
		cfg.RPC.UpdateEndpoint = f.updateEndpoint
	}
	if f.set["batch-size"] {
		cfg.RPC.BatchSize = f.batchSize
	}
	if f.set["retry-delay"] {
		cfg.Retry.Delay = f.retryDelay
	}
	if f.set["max-retries"] {
		attempts := f.maxRetries
		cfg.Retry.MaxAttempts = &attempts
	}
	if f.set["storage"] {
		cfg.Storage.Type = f.storageType
	}
	if f.set["db"] {
		cfg.Storage.Path = f.dbPath
	}
	if f.set["redis-addr"] {
		cfg.Storage.RedisAddr = f.redisAddr
	}
	if f.set["postgres-dsn"] {
		cfg.Storage.PostgresDSN = f.postgresDSN
	}
	if f.set["genesis"] {
		cfg.Extractor.Genesis = f.genesis
	}
	if f.set["follow"] {
		cfg.Extractor.Follow = f.follow
	}
	if f.set["poll-interval"] {
		cfg.Extractor.PollInterval = f.pollInterval
	}
	if f.set["gap-recovery"] {
		cfg.Extractor.GapRecovery = f.gapRecovery
	}
	if f.set["reset-on-mismatch"] {
		cfg.Extractor.ResetOnMismatch = f.resetOnMismatch
	}
	if f.set["skip-chain-validation"] {
		cfg.Extractor.SkipChainValidation = f.skipValidation
	}
	if f.set["api"] {
		cfg.API.Enabled = f.enableAPI
	}
	if f.set["api-host"] {
		cfg.API.Host = f.apiHost
	}
	if f.set["api-port"] {
		cfg.API.Port = f.apiPort
	}
	if f.set["metrics"] {
		cfg.Metrics.Enabled = f.metrics
	}
	if f.set["log-level"] {
		cfg.Log.Level = f.logLevel
	}
	if f.set["log-format"] {
		cfg.Log.Format = f.logFormat
	}
}

func main() {
	f := parseFlags()

	if f.showVersion {
		fmt.Printf("evm-block-extractor version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(f.configFile, f.apply)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Extractor stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("Extractor stopped")
	_ = log.Sync()
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting extractor",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("rpc_endpoint", cfg.RPC.Endpoint),
		zap.String("storage", cfg.Storage.Type),
		zap.Uint64("genesis", cfg.Extractor.Genesis),
		zap.Int("batch_size", cfg.RPC.BatchSize),
		zap.Int("max_retries", cfg.Retry.Attempts()),
		zap.Bool("follow", cfg.Extractor.Follow),
	)

	client, err := newClient(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create rpc client: %w", err)
	}

	store, err := storage.Open(ctx, storageConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close storage", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ext, err := extract.New(client, store, &extract.Config{
		BatchSize:       cfg.RPC.BatchSize,
		MaxRetries:      cfg.Retry.Attempts(),
		RetryDelay:      cfg.Retry.Delay,
		Genesis:         cfg.Extractor.Genesis,
		ValidateChain:   !cfg.Extractor.SkipChainValidation,
		ResetOnMismatch: cfg.Extractor.ResetOnMismatch,
	}, log, extract.WithMetrics(extract.NewMetrics(registry, cfg.Metrics.Namespace)))
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = startAPI(cfg, log, store, registry)
		if err != nil {
			return err
		}
		defer func() {
			if err := apiServer.Stop(context.Background()); err != nil {
				log.Error("Failed to stop API server", zap.Error(err))
			}
		}()
	}

	if err := ext.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize extractor: %w", err)
	}

	if cfg.Extractor.GapRecovery {
		if err := recoverGaps(ctx, ext, store, cfg.Extractor.Genesis, log); err != nil {
			return err
		}
	}

	if cfg.Extractor.Follow {
		return ext.Loop(ctx, cfg.Extractor.PollInterval)
	}

	collected, err := ext.Run(ctx)
	if err != nil {
		return err
	}
	log.Info("Extraction completed",
		zap.Stringer("range", collected),
		zap.Uint64("blocks", collected.Size()),
	)

	// keep serving reads until interrupted
	if apiServer != nil {
		<-ctx.Done()
	}
	return nil
}

func newClient(cfg *config.Config, log *zap.Logger) (*rpc.Client, error) {
	var opts []rpc.Option
	if cfg.RPC.UpdateEndpoint != "" {
		update, err := rpc.NewHTTPTransport(rpc.HTTPConfig{
			Endpoint:  cfg.RPC.UpdateEndpoint,
			Timeout:   cfg.RPC.Timeout,
			RateLimit: cfg.RPC.RateLimit,
			RateBurst: cfg.RPC.RateBurst,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, rpc.WithUpdateTransport(update))
	}

	return rpc.NewClient(&rpc.Config{
		Endpoint:       cfg.RPC.Endpoint,
		Timeout:        cfg.RPC.Timeout,
		RateLimit:      cfg.RPC.RateLimit,
		RateBurst:      cfg.RPC.RateBurst,
		MaxConcurrency: cfg.RPC.MaxConcurrency,
		Logger:         log,
	}, opts...)
}

func storageConfig(cfg *config.Config) *storage.Config {
	sc := &storage.Config{
		Type:             storage.BackendType(cfg.Storage.Type),
		Path:             cfg.Storage.Path,
		ReadOnly:         cfg.Storage.ReadOnly,
		Cache:            cfg.Storage.Cache,
		MaxOpenFiles:     cfg.Storage.MaxOpenFiles,
		WriteBuffer:      cfg.Storage.WriteBuffer,
		RedisAddr:        cfg.Storage.RedisAddr,
		RedisPassword:    cfg.Storage.RedisPassword,
		RedisDB:          cfg.Storage.RedisDB,
		RedisKeyPrefix:   cfg.Storage.RedisKeyPrefix,
		PostgresDSN:      cfg.Storage.PostgresDSN,
		PostgresMaxConns: cfg.Storage.PostgresMaxConns,
		QueryTimeout:     cfg.Storage.QueryTimeout,
	}
	sc.SetDefaults()
	return sc
}

func startAPI(cfg *config.Config, log *zap.Logger, store storage.Reader, gatherer prometheus.Gatherer) (*api.Server, error) {
	apiConfig := api.DefaultConfig()
	apiConfig.Host = cfg.API.Host
	apiConfig.Port = cfg.API.Port
	apiConfig.JSONRPCPath = cfg.API.JSONRPCPath
	apiConfig.EnableMetrics = cfg.Metrics.Enabled
	apiConfig.EnableRateLimit = cfg.API.EnableRateLimit
	apiConfig.RateLimitPerSecond = cfg.API.RateLimitPerSecond
	apiConfig.RateLimitBurst = cfg.API.RateLimitBurst
	apiConfig.Version = version

	server, err := api.NewServer(apiConfig, logger.WithComponent(log, logger.ComponentAPI), store, gatherer)
	if err != nil {
		return nil, fmt.Errorf("failed to create API server: %w", err)
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Error("API server failed", zap.Error(err))
		}
	}()
	return server, nil
}

// recoverGaps fills missing heights between genesis and the stored head
func recoverGaps(ctx context.Context, ext *extract.Extractor, store storage.Reader, genesis uint64, log *zap.Logger) error {
	latest, ok, err := store.GetLatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stored head: %w", err)
	}
	if !ok || latest < genesis {
		log.Info("Nothing stored yet, skipping gap recovery")
		return nil
	}

	filled, err := ext.FillGaps(ctx, genesis, latest)
	if err != nil {
		return fmt.Errorf("gap recovery failed: %w", err)
	}
	log.Info("Gap recovery completed", zap.Uint64("blocks_filled", filled))
	return nil
}
