package main

import (
	"context"
	"fmt"

	appAlert "smartstock-alerts/internal/application/alert"
	alertDomain "smartstock-alerts/internal/domain/alert"
	"smartstock-alerts/internal/infra/memory"
	"smartstock-alerts/internal/infrastructure/config"
	"smartstock-alerts/internal/infrastructure/db"
	"smartstock-alerts/internal/infrastructure/external/alpaca"
	"smartstock-alerts/internal/infrastructure/external/binance"
	"smartstock-alerts/internal/infrastructure/external/finnhub"
	"smartstock-alerts/internal/infrastructure/market"
	"smartstock-alerts/internal/infrastructure/notify"
	"smartstock-alerts/internal/infrastructure/persistence/postgres"
	"smartstock-alerts/internal/infrastructure/persistence/sqlite"
	httpapi "smartstock-alerts/internal/interface/http"

	"go.uber.org/zap"
)

// alertStore 為三種後端共同實作的存取介面。
type alertStore interface {
	alertDomain.Repository
	alertDomain.OutcomeStore
	Ping(ctx context.Context) error
	Close() error
}

type app struct {
	store      alertStore
	storeKind  string
	cache      *market.CachedQuoter
	dispatcher *notify.Dispatcher
	scheduler  *appAlert.Scheduler
	server     *httpapi.Server
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	store, kind, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gateway, cache, err := buildGateway(cfg.Gateway, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	dispatcher := notify.NewDispatcher(logger, buildChannels(cfg.Notifier)...)

	engine := appAlert.NewEngine(store, gateway, dispatcher, store, appAlert.EngineOptions{
		MaxSnapshotAge:   cfg.Engine.MaxSnapshotAge,
		ApplyConcurrency: cfg.Engine.ApplyConcurrency,
		NotifyTimeout:    cfg.Engine.NotifyTimeout,
	}, logger.Named("engine"))

	scheduler := appAlert.NewScheduler(engine, appAlert.SchedulerOptions{
		Interval:    cfg.Scheduler.Interval,
		PassTimeout: cfg.Scheduler.PassTimeout,
		RunOnStart:  cfg.Scheduler.RunOnStart,
	}, logger.Named("scheduler"))

	service := appAlert.NewService(store, store, logger.Named("alerts"))

	deps := httpapi.Deps{
		Alerts:    service,
		Scheduler: scheduler,
		Store:     store,
		StoreKind: kind,
		Provider:  cfg.Gateway.Provider,
		Notifiers: dispatcher.Channels(),
		Logger:    logger,
	}
	// 介面值保持 nil，避免 typed nil 讓 handler 誤判有快取。
	if cache != nil {
		deps.Cache = cache
	}

	return &app{
		store:      store,
		storeKind:  kind,
		cache:      cache,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		server:     httpapi.NewServer(deps),
	}, nil
}

// openStore 依序嘗試 Postgres、SQLite，最後退回記憶體。
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (alertStore, string, error) {
	if cfg.DB.DSN != "" {
		pool, err := db.Connect(ctx, cfg.DB)
		if err != nil {
			return nil, "", err
		}
		logger.Info("database connected", zap.String("store", "postgres"))
		return postgres.NewAlertRepo(pool), "postgres", nil
	}
	if cfg.Store.SQLitePath != "" {
		s, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, "", err
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.Store.SQLitePath))
		return s, "sqlite", nil
	}
	logger.Warn("no DB_DSN or SQLITE_PATH provided; running with in-memory store only")
	return memory.NewStore(), "memory", nil
}

// buildGateway 回傳行情來源；逐檔查詢的來源會包一層快取。
func buildGateway(cfg config.GatewayConfig, logger *zap.Logger) (appAlert.Gateway, *market.CachedQuoter, error) {
	opts := market.FanOutOptions{
		Timeout:     cfg.Timeout,
		Concurrency: cfg.Concurrency,
		RatePerSec:  cfg.RatePerSec,
		Burst:       cfg.Burst,
	}
	var quoter market.Quoter
	switch cfg.Provider {
	case "binance":
		client := binance.NewClient(cfg.Binance.APIKey, cfg.Binance.UseTestnet).WithBaseURL(cfg.Binance.BaseURL)
		quoter = binance.NewQuoter(client)
	case "finnhub":
		quoter = finnhub.NewClient(cfg.Finnhub.APIKey).WithBaseURL(cfg.Finnhub.BaseURL)
	case "alpaca":
		gw := alpaca.NewGateway(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.Feed, cfg.Timeout)
		return gw, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown gateway provider %q", cfg.Provider)
	}

	var cache *market.CachedQuoter
	if cfg.CacheTTL > 0 {
		cache = market.NewCachedQuoter(quoter, cfg.CacheTTL)
		quoter = cache
	}
	return market.NewFanOut(quoter, opts, logger.Named("gateway")), cache, nil
}

func buildChannels(cfg config.NotifierConfig) []notify.Channel {
	var channels []notify.Channel
	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		channels = append(channels, notify.NewTelegramClient(cfg.Telegram.Token, cfg.Telegram.ChatID, ""))
	}
	if cfg.Email.Enabled {
		channels = append(channels, notify.NewEmailNotifier(cfg.Email.Host, cfg.Email.Port, cfg.Email.Username, cfg.Email.Password, cfg.Email.From))
	}
	if cfg.Webhook.Enabled {
		channels = append(channels, notify.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Timeout))
	}
	return channels
}
