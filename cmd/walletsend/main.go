package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/walletsend/internal/send/cache"
	"github.com/Aidin1998/walletsend/internal/send/config"
	"github.com/Aidin1998/walletsend/internal/send/dispatch"
	"github.com/Aidin1998/walletsend/internal/send/events"
	"github.com/Aidin1998/walletsend/internal/send/evm"
	"github.com/Aidin1998/walletsend/internal/send/fee"
	"github.com/Aidin1998/walletsend/internal/send/interfaces"
	"github.com/Aidin1998/walletsend/internal/send/orchestrator"
	"github.com/Aidin1998/walletsend/internal/send/sandbox"
	"github.com/Aidin1998/walletsend/internal/send/server"
	"github.com/Aidin1998/walletsend/pkg/logger"
	"github.com/Aidin1998/walletsend/pkg/observability"
)

const (
	stakingSpender   = "0x5e3Ef299fDDf15eAa0432E6e66473ace8c13D908"
	stakingToken     = "0x455e53CBB86018Ac2B8092FdCd39d8444aFFC3F6"
	defaultValidator = "validator-1"
)

func main() {
	level := zap.NewAtomicLevel()
	bootLog, err := logger.NewLogger("info", logger.Options{Service: "walletsend", Level: &level})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	loader := config.NewLoader(bootLog)
	cfg, err := loader.Load()
	if err != nil {
		bootLog.Fatal("Failed to load configuration", zap.Error(err))
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level, logger.Options{
		Development: cfg.Development,
		Service:     "walletsend",
		Level:       &level,
	})
	if err != nil {
		bootLog.Fatal("Failed to create logger", zap.Error(err))
	}
	defer func() { _ = zapLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, loader, &level, zapLogger); err != nil {
		zapLogger.Fatal("walletsend stopped with error", zap.Error(err))
	}
	zapLogger.Info("walletsend stopped")
}

func run(ctx context.Context, cfg *config.Config, loader *config.Loader, level *zap.AtomicLevel, log *zap.Logger) error {
	shutdownTelemetry, err := observability.Setup(ctx, observability.Config{
		Tracing:     cfg.Tracing.Enabled,
		Metrics:     cfg.Tracing.Enabled,
		PrettyPrint: cfg.Tracing.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Warn("Failed to flush telemetry", zap.Error(err))
		}
	}()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Address, err)
		}
		log.Info("Connected to redis", zap.String("address", cfg.Redis.Address))
	}

	analytics, closePublishers := buildAnalytics(cfg, redisClient, log)
	defer closePublishers()

	wallet := sandbox.NewWallet()
	wallet.Fund("ETH", decimal.RequireFromString("3"))
	wallet.Fund("POL", decimal.RequireFromString("1500"))
	wallet.SetRate("ETH", decimal.RequireFromString("2500"))
	wallet.SetRate("POL", decimal.RequireFromString("0.45"))
	wallet.SetFeeAsset("POL", "ETH")

	feeSource := sandbox.NewFeeSource()
	feeSource.SetMarketFee("ETH", decimal.RequireFromString("0.0004"))

	var quotes interfaces.FeeQuoteSource = feeSource
	if redisClient != nil {
		quotes = fee.NewCachedSource(feeSource, cache.NewRedisCache(redisClient, log, "walletsend:", cfg.Redis.FeeTTL), log)
	}

	staking := sandbox.NewStakingManager(wallet, sandbox.StakingOptions{
		AssetID:  "POL",
		Fee:      decimal.RequireFromString("0.003"),
		Spender:  stakingSpender,
		Schedule: "daily",
	})

	signer, err := sandbox.NewSigner(wallet, staking, "https://etherscan.io/tx/", log)
	if err != nil {
		return err
	}
	gateway := dispatch.NewGateway(signer, log)

	allowance, err := buildAllowance(ctx, cfg, log)
	if err != nil {
		return err
	}

	registry := server.NewRegistry()
	defer registry.Close()

	fiatDecimals := cfg.Pipeline.FiatDecimals
	pipeline := orchestrator.Options{
		Development:            cfg.Development,
		ApprovePolicy:          interfaces.ApprovePolicy(cfg.Pipeline.ApprovePolicy),
		PollInterval:           cfg.Pipeline.PollInterval,
		RelevanceWindow:        cfg.Pipeline.RelevanceWindow,
		ReduceAmountMultiplier: decimal.NewFromInt(cfg.Pipeline.ReduceAmountMultiplier),
		FiatDecimals:           &fiatDecimals,
	}

	transferOpts := pipeline
	transferOpts.Kind = orchestrator.KindTransfer
	transferOpts.AssetID = "ETH"
	transferOpts.Blockchain = "ethereum"
	transferOpts.CryptoDecimals = 18
	transfer, err := orchestrator.New(transferOpts, orchestrator.Dependencies{
		Gateway:        gateway,
		Rates:          wallet,
		Balances:       wallet,
		Validator:      wallet.Validator("ETH", "ETH", decimal.RequireFromString("0.000001")),
		Analytics:      analytics,
		MinimalBalance: wallet.MinimalBalance("ETH"),
		Creator:        sandbox.Creator{},
		FeeSource:      quotes,
		Addresses:      evm.NewAddressService(signer.Address()),
		FieldParser:    sandbox.MemoParser{},
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create transfer session: %w", err)
	}

	stakeOpts := pipeline
	stakeOpts.Kind = orchestrator.KindStake
	stakeOpts.AssetID = "POL"
	stakeOpts.FeeAssetID = "ETH"
	stakeOpts.Blockchain = "ethereum"
	stakeOpts.CryptoDecimals = 18
	stakeOpts.Validator = defaultValidator
	stake, err := orchestrator.New(stakeOpts, orchestrator.Dependencies{
		Gateway:        gateway,
		Rates:          wallet,
		Balances:       wallet,
		Validator:      wallet.Validator("POL", "ETH", decimal.Zero),
		Analytics:      analytics,
		MinimalBalance: wallet.MinimalBalance("POL"),
		Creator:        sandbox.Creator{},
		StakingManager: staking,
		Allowance:      allowance,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create stake session: %w", err)
	}

	for _, o := range []*orchestrator.Orchestrator{transfer, stake} {
		o.Start(ctx)
		registry.Add(o)
		log.Info("Session started", zap.String("kind", string(o.Kind())), zap.Stringer("session_id", o.Session()))
	}

	srv := server.New(registry, cfg.Tracing.Service, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.Address, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return loader.Watch(gctx, func(next *config.Config) {
			level.SetLevel(logger.ParseLevel(next.Log.Level))
			log.Info("Configuration reloaded",
				zap.String("log_level", next.Log.Level),
				zap.Duration("poll_interval", next.Pipeline.PollInterval))
		})
	})

	return g.Wait()
}

func buildAnalytics(cfg *config.Config, redisClient *redis.Client, log *zap.Logger) (interfaces.AnalyticsLogger, func()) {
	publishers := []events.Publisher{events.NewMemoryPublisher()}
	var closers []func() error

	if cfg.Kafka.Enabled {
		kafka := events.NewKafkaPublisher(cfg.Kafka.Brokers, log)
		publishers = append(publishers, kafka)
		closers = append(closers, kafka.Close)
	}
	if redisClient != nil {
		publishers = append(publishers, events.NewRedisPublisher(redisClient, 10000, log))
	}
	if cfg.Webhook.URL != "" {
		publishers = append(publishers, events.NewWebhookPublisher(cfg.Webhook.URL, cfg.Webhook.Timeout, log))
	}

	topic := cfg.Kafka.Topic
	if !cfg.Kafka.Enabled && redisClient != nil {
		topic = cfg.Redis.Stream
	}

	analytics := events.NewAnalyticsPublisher(events.NewEventPublisher(publishers, topic, log), log)
	return analytics, func() {
		for _, closer := range closers {
			if err := closer(); err != nil {
				log.Warn("Failed to close publisher", zap.Error(err))
			}
		}
	}
}

// buildAllowance reads approvals from chain when an RPC endpoint is configured
func buildAllowance(ctx context.Context, cfg *config.Config, log *zap.Logger) (interfaces.AllowanceProvider, error) {
	if cfg.EVM.RPCURL == "" {
		return sandbox.NewAllowance(stakingToken, 18, decimal.RequireFromString("0.0002")), nil
	}

	client, err := evm.Dial(ctx, cfg.EVM.RPCURL)
	if err != nil {
		return nil, err
	}
	log.Info("Using on-chain allowances", zap.String("token", cfg.EVM.TokenContract))
	return evm.NewAllowanceProvider(client, cfg.EVM.Owner, cfg.EVM.TokenContract, cfg.EVM.TokenDecimals, log)
}
