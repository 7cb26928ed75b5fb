package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the incident engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Store       StoreConfig       `yaml:"store"`
	LogSource   LogSourceConfig   `yaml:"logSource"`
	Enrichment  EnrichmentConfig  `yaml:"enrichment"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Cache       CacheConfig       `yaml:"cache"`
	Playbooks   PlaybooksConfig   `yaml:"playbooks"`
}

// ServerConfig controls the HTTP, gRPC and metrics listeners.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"httpAddress"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StoreConfig selects the document store backends.
type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver          string `yaml:"driver"`
	SQLitePath      string `yaml:"sqlitePath"`
	CredentialsPath string `yaml:"credentialsPath"`
	// CredentialsInMemory keeps user_credentials in an in-memory badger
	// instance. Development only.
	CredentialsInMemory bool `yaml:"credentialsInMemory"`
	IncidentWindow      int  `yaml:"incidentWindow"`
	GroupWindow         int  `yaml:"groupWindow"`
}

// LogSourceConfig configures the trace-grouped log API.
type LogSourceConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// EnrichmentConfig configures the OpenAI-compatible enrichment endpoint.
type EnrichmentConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	APIKey      string        `yaml:"apiKey"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float32       `yaml:"temperature"`
}

// CredentialsConfig controls credential encryption and refresh.
type CredentialsConfig struct {
	EncryptionKey string `yaml:"encryptionKey"`
	TokenURL      string `yaml:"tokenURL"`
}

// AnalysisConfig tunes the correlation engine.
type AnalysisConfig struct {
	DefaultWindowMinutes int `yaml:"defaultWindowMinutes"`
	MaxTraces            int `yaml:"maxTraces"`
	// Concurrency caps simultaneous trace analyses; 0 means one goroutine
	// per selected trace.
	Concurrency         int `yaml:"concurrency"`
	EscalationThreshold int `yaml:"escalationThreshold"`
	ContextLogs         int `yaml:"contextLogs"`
}

// AlertsConfig controls the alert worker and its notification channels.
type AlertsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RecentWindow  int           `yaml:"recentWindow"`
	Recipient     string        `yaml:"recipient"`
	SMTP          SMTPConfig    `yaml:"smtp"`
	Webhook       WebhookConfig `yaml:"webhook"`
	DashboardURL  string        `yaml:"dashboardURL"`
	NotifyTimeout time.Duration `yaml:"notifyTimeout"`
}

// SMTPConfig configures email delivery.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// WebhookConfig configures HTTP alert delivery.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// CacheConfig controls Redis-backed caching of log source lookups.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	TracesTTL    time.Duration `yaml:"tracesTTL"`
}

// PlaybooksConfig controls remediation playbook loading.
type PlaybooksConfig struct {
	Path string `yaml:"path"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_INCIDENTS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:     ":8000",
			GRPCAddress:     ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Store: StoreConfig{
			Driver:          "sqlite",
			SQLitePath:      "data/incidents.db",
			CredentialsPath: "data/credentials",
			IncidentWindow:  300,
			GroupWindow:     200,
		},
		LogSource: LogSourceConfig{
			Path:    "/api/v1/logs/traces",
			Timeout: 15 * time.Second,
		},
		Enrichment: EnrichmentConfig{
			Model:       "gpt-4o-mini",
			Timeout:     30 * time.Second,
			Temperature: 0.1,
		},
		Credentials: CredentialsConfig{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Analysis: AnalysisConfig{
			DefaultWindowMinutes: 60,
			MaxTraces:            10,
			EscalationThreshold:  5,
			ContextLogs:          20,
		},
		Alerts: AlertsConfig{
			Enabled:       true,
			Interval:      10 * time.Second,
			RecentWindow:  20,
			SMTP:          SMTPConfig{Host: "smtp.gmail.com", Port: 587},
			DashboardURL:  "http://localhost:5173/incidents",
			NotifyTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			TracesTTL:    time.Minute,
		},
		Playbooks: PlaybooksConfig{Path: "configs/playbooks/default.yaml"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_INCIDENTS_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CREDENTIALS_PATH"); v != "" {
		cfg.Store.CredentialsPath = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_LOG_SOURCE_URL"); v != "" {
		cfg.LogSource.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_LOG_SOURCE_PATH"); v != "" {
		cfg.LogSource.Path = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_ENRICHMENT_URL"); v != "" {
		cfg.Enrichment.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_ENRICHMENT_API_KEY"); v != "" {
		cfg.Enrichment.APIKey = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_ENRICHMENT_MODEL"); v != "" {
		cfg.Enrichment.Model = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_ENRICHMENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Enrichment.Timeout = d
		}
	}
	if v := os.Getenv("CREDENTIAL_ENCRYPTION_KEY"); v != "" {
		cfg.Credentials.EncryptionKey = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_TOKEN_URL"); v != "" {
		cfg.Credentials.TokenURL = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_MAX_TRACES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.MaxTraces = n
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.Concurrency = n
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_ALERTS_ENABLED"); v != "" {
		cfg.Alerts.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_ALERTS_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alerts.Interval = d
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_ALERT_RECIPIENT"); v != "" {
		cfg.Alerts.Recipient = v
	}
	if v := os.Getenv("GMAIL_USER"); v != "" {
		cfg.Alerts.SMTP.Username = v
		if cfg.Alerts.SMTP.From == "" {
			cfg.Alerts.SMTP.From = v
		}
		if cfg.Alerts.Recipient == "" {
			cfg.Alerts.Recipient = v
		}
	}
	if v := os.Getenv("GMAIL_APP_PASSWORD"); v != "" {
		cfg.Alerts.SMTP.Password = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Webhook.URL = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_TRACES_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TracesTTL = d
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_PLAYBOOKS_PATH"); v != "" {
		cfg.Playbooks.Path = v
	}
}
