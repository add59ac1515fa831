package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"solpay_relay/internal/domain"
	"solpay_relay/internal/infra"
	"solpay_relay/internal/infra/broker"
	"solpay_relay/internal/infra/httpserver"
	"solpay_relay/internal/infra/session"
	"solpay_relay/internal/infra/solana"
	"solpay_relay/internal/infra/storage"
	"solpay_relay/internal/service"
)

const shutdownTimeout = 10 * time.Second

// Bootstrap orchestrates the relay startup and shutdown sequence
type Bootstrap struct {
	Config    *infra.Config
	Metrics   *infra.Metrics
	Storage   *storage.Storage  // nil when payment history is disabled
	Publisher *broker.Publisher // nil when broker fan-out is disabled
	Ledger    *solana.Client
	Hub       *session.Hub
	Server    *httpserver.Server
	Service   *service.RegistrationService
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads config, installs the logger and opens optional backends.
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Bootstrapping relay...")

	b.Metrics = infra.NewMetrics()

	// 3. Payment history (optional)
	if cfg.Storage.Path != "" {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		slog.Info("✅ Payment history initialized", slog.String("path", cfg.Storage.Path))
	}

	// 4. Broker fan-out (optional)
	if cfg.Broker.AMQPURL != "" {
		pub, err := broker.NewPublisher(cfg.Broker.AMQPURL, cfg.Broker.Exchange, cfg.Broker.RoutingKey)
		if err != nil {
			b.Close()
			return err
		}
		b.Publisher = pub
	}

	return nil
}

// Run wires every component and serves until ctx is cancelled.
func (b *Bootstrap) Run(ctx context.Context) error {
	cfg := b.Config

	predicate, err := service.NewPredicate(cfg.Watch.Qualify, cfg.Watch.Marker)
	if err != nil {
		return &domain.ConfigError{Field: "watch.qualify", Err: err}
	}

	b.Ledger = solana.NewClient(cfg.Solana.RPCURL, cfg.Solana.WSURL, cfg.Solana.Commitment)
	rates := infra.NewExchangeRateClientWithConfig(
		cfg.ExchangeRate.URL,
		cfg.ExchangeRate.TimeoutSec,
		cfg.ExchangeRate.RequestsPerSec,
		cfg.ExchangeRate.Retries,
	)

	registry := service.NewSessionRegistry()
	b.Hub = session.NewHub(registry, b.Metrics,
		time.Duration(cfg.Session.PingIntervalSec)*time.Second,
		time.Duration(cfg.Session.ReadTimeoutSec)*time.Second,
	)

	opts := []service.DispatcherOption{
		service.WithNonPositive(*cfg.Relay.NotifyNonPositive),
		service.WithSendTimeout(cfg.SendTimeout()),
	}
	var history httpserver.PaymentHistory
	if b.Storage != nil {
		opts = append(opts, service.WithRecorder(b.Storage))
		history = b.Storage
	}
	if b.Publisher != nil {
		opts = append(opts, service.WithPublisher(b.Publisher))
	}

	watcher := service.NewLedgerWatcher(b.Ledger, predicate, cfg.LookupTimeout(), b.Metrics)
	computer := service.NewTransferComputer(rates, cfg.ExchangeRate.BaseAsset, cfg.LookupTimeout())
	dispatcher := service.NewRelayDispatcher(registry, b.Hub, b.Metrics, opts...)
	b.Service = service.NewRegistrationService(ctx, registry, watcher, computer, dispatcher, b.Metrics)

	b.Server = httpserver.NewServer(cfg.Server.Addr,
		time.Duration(cfg.Server.ReadTimeoutSec)*time.Second,
		b.Service, b.Hub, b.Metrics, history,
	)
	if err := b.Server.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	slog.Info("✨ Relay fully operational. Press Ctrl+C to exit.",
		slog.String("version", cfg.App.Version),
		slog.String("rpc", cfg.Solana.RPCURL),
		slog.String("qualify", cfg.Watch.Qualify),
	)

	<-ctx.Done()
	slog.Info("👋 Shutting down gracefully...")
	b.shutdown()
	return nil
}

func (b *Bootstrap) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if b.Server != nil {
		if err := b.Server.Stop(ctx); err != nil {
			slog.Error("HTTP server shutdown failed", slog.Any("error", err))
		}
	}
	if b.Service != nil {
		b.Service.StopAll()
	}
	if b.Ledger != nil {
		b.Ledger.Wait()
	}
	if b.Hub != nil {
		b.Hub.Close()
	}
	b.Close()
	slog.Info("Relay stopped", slog.Any("metrics", b.Metrics.Snapshot()))
}

// Close releases the optional backends.
func (b *Bootstrap) Close() {
	if b.Publisher != nil {
		b.Publisher.Close()
		b.Publisher = nil
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Storage close failed", slog.Any("error", err))
		}
		b.Storage = nil
	}
}
