package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-incidents/internal/alerting"
	"github.com/miradorstack/mirador-incidents/internal/cache"
	"github.com/miradorstack/mirador-incidents/internal/config"
	"github.com/miradorstack/mirador-incidents/internal/credentials"
	"github.com/miradorstack/mirador-incidents/internal/engine"
	"github.com/miradorstack/mirador-incidents/internal/repo"
	"github.com/miradorstack/mirador-incidents/internal/services"
	"github.com/miradorstack/mirador-incidents/internal/store"
	"github.com/miradorstack/mirador-incidents/internal/store/badger"
	"github.com/miradorstack/mirador-incidents/internal/store/memory"
	"github.com/miradorstack/mirador-incidents/internal/store/sqlite"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

// app holds every wired component plus the resources to release on exit.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	incidents   store.IncidentStore
	rules       store.RuleStore
	credentials *credentials.Manager
	correlator  *engine.Correlator
	service     *services.IncidentService
	closers     []func() error
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{cfg: cfg, logger: logger}

	if err := a.openStores(); err != nil {
		a.Close()
		return nil, err
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	switch {
	case !cfg.Cache.Enabled:
	case cfg.Cache.Addr == "":
		cacheProvider = cache.NewMemoryProvider()
	default:
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
			KeyPrefix:    "mirador-incidents",
		})
		if err != nil {
			logger.Warn("redis cache unavailable; using in-process cache", slog.Any("error", err))
			cacheProvider = cache.NewMemoryProvider()
		} else {
			cacheProvider = provider
			a.closers = append(a.closers, provider.Close)
		}
	}

	logSource := repo.NewLogSourceClient(cfg.LogSource.BaseURL, cfg.LogSource.Path, cfg.LogSource.Timeout, cacheProvider, cfg.Cache.TracesTTL, logger)
	modelCfg := repo.EnrichmentConfig{
		BaseURL:     cfg.Enrichment.BaseURL,
		APIKey:      cfg.Enrichment.APIKey,
		Model:       cfg.Enrichment.Model,
		Timeout:     cfg.Enrichment.Timeout,
		Temperature: cfg.Enrichment.Temperature,
	}
	enricher := repo.NewEnrichmentClient(modelCfg, logger)

	analyzer := engine.NewAnalyzer(enricher, a.incidents, engine.AnalyzerConfig{
		EscalationThreshold: cfg.Analysis.EscalationThreshold,
		ContextLogs:         cfg.Analysis.ContextLogs,
	}, logger)
	a.correlator = engine.NewCorrelator(a.credentials, logSource, analyzer, engine.CorrelatorConfig{
		DefaultWindowMinutes: cfg.Analysis.DefaultWindowMinutes,
		MaxTraces:            cfg.Analysis.MaxTraces,
		Concurrency:          cfg.Analysis.Concurrency,
	}, logger)

	playbooks, err := engine.NewPlaybookEngine(cfg.Playbooks.Path, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load playbooks: %w", err)
	}

	a.service = services.NewIncidentService(services.Deps{
		Runner:      a.correlator,
		Incidents:   a.incidents,
		Rules:       a.rules,
		Query:       store.NewQuery(a.incidents, cfg.Store.IncidentWindow, cfg.Store.GroupWindow),
		Playbooks:   playbooks,
		Credentials: a.credentials,
		Chat:        repo.NewChatClient(modelCfg, logger),
	}, logger)
	return a, nil
}

func (a *app) openStores() error {
	cfg := a.cfg
	var credentialStore store.CredentialStore

	switch strings.ToLower(cfg.Store.Driver) {
	case "memory":
		mem := memory.New()
		a.incidents, a.rules, credentialStore = mem, mem, mem
	case "", "sqlite":
		db, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("open incident store: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.incidents, a.rules = db, db
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if credentialStore == nil {
		kv, err := badger.Open(badger.Config{
			Path:       cfg.Store.CredentialsPath,
			InMemory:   cfg.Store.CredentialsInMemory,
			SyncWrites: true,
			Logger:     a.logger,
		})
		if err != nil {
			return fmt.Errorf("open credential store: %w", err)
		}
		a.closers = append(a.closers, kv.Close)
		credentialStore = kv
	}

	var cipher *credentials.Cipher
	if cfg.Credentials.EncryptionKey != "" {
		c, err := credentials.NewCipher(cfg.Credentials.EncryptionKey)
		if err != nil {
			return fmt.Errorf("credential encryption key: %w", err)
		}
		cipher = c
	}
	refresher := &credentials.OAuthRefresher{TokenURL: cfg.Credentials.TokenURL}
	a.credentials = credentials.NewManager(credentialStore, cipher, refresher, a.logger)
	return nil
}

// notifier picks the alert channels the configuration enables. Logging is
// the fallback when nothing else is configured.
func (a *app) notifier() alerting.Notifier {
	cfg := a.cfg.Alerts
	var channels alerting.MultiNotifier

	if cfg.SMTP.Username != "" && cfg.SMTP.Password != "" {
		channels = append(channels, alerting.NewEmailNotifier(alerting.SMTPConfig{
			Host:         cfg.SMTP.Host,
			Port:         cfg.SMTP.Port,
			Username:     cfg.SMTP.Username,
			Password:     cfg.SMTP.Password,
			From:         cfg.SMTP.From,
			DashboardURL: cfg.DashboardURL,
			Timeout:      cfg.NotifyTimeout,
		}, a.logger))
	}
	if cfg.Webhook.URL != "" {
		webhook, err := alerting.NewWebhookNotifier(alerting.WebhookConfig{
			URL:     cfg.Webhook.URL,
			Timeout: cfg.NotifyTimeout,
			Headers: cfg.Webhook.Headers,
		}, a.logger)
		if err != nil {
			a.logger.Warn("webhook notifier disabled", slog.Any("error", err))
		} else {
			channels = append(channels, webhook)
		}
	}
	if len(channels) == 0 {
		return alerting.LogNotifier{Logger: a.logger}
	}
	return channels
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
