package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/HandlePay/internal/pkg/env"
)

// DefaultReceiptTimeout is used when CHAIN_RECEIPT_TIMEOUT is not set.
const DefaultReceiptTimeout = 2 * time.Minute

type AppConfig struct {
	Env         string
	Host        string
	Port        string
	CORSOrigins string
	RateLimit   int
}

type DBConfig struct {
	Driver   string `validate:"oneof=mysql sqlite"`
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	Path     string
}

type ChainConfig struct {
	RPCURL       string
	ChainID      int64  `validate:"gt=0"`
	Name         string `validate:"required"`
	FeeSponsored bool
	RPCTimeout   time.Duration `validate:"gt=0"`

	// ReceiptTimeout bounds the whole wait for a transaction receipt.
	ReceiptTimeout time.Duration `validate:"gt=0"`
}

type IndexerConfig struct {
	Enabled       bool
	StartBlock    int64         `validate:"gte=0"`
	MaxLogRange   int64         `validate:"gt=0"`
	Confirmations int64         `validate:"gte=0"`
	ReorgWindow   int64         `validate:"gte=0"`
	Interval      time.Duration `validate:"gt=0"`
}

type NotifyConfig struct {
	Enabled        bool
	Provider       string        `validate:"oneof=log webhook smtp"`
	RetryMax       int           `validate:"gt=0"`
	RetryBase      time.Duration `validate:"gt=0"`
	WorkerInterval time.Duration `validate:"gt=0"`
	BatchSize      int           `validate:"gt=0"`
	WebhookURL     string
	SMTP           SMTPConfig
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

type AuthConfig struct {
	AllowInsecureDev bool
	JWTSecret        string
	Issuer           string
	Audience         string
	AdminSubs        []string
	AdminEmails      []string
}

type CustodyConfig struct {
	EncryptionSecret string
	OwnerWallet      string
	OwnerPrivateKey  string
	OwnerHandle      string
}

type CacheConfig struct {
	Host       string
	Port       string
	Password   string
	BalanceTTL time.Duration
}

// Config is the full process configuration.
type Config struct {
	App         AppConfig
	DB          DBConfig
	Chain       ChainConfig
	Indexer     IndexerConfig
	Notify      NotifyConfig
	Auth        AuthConfig
	Custody     CustodyConfig
	Cache       CacheConfig
	Stablecoins *Stablecoins
}

// Load reads the configuration from the environment (see env.SetupEnvFile).
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Env:         env.GetEnv("APP_ENV", "prod"),
			Host:        env.GetEnv("APP_HOST", "localhost"),
			Port:        env.GetEnv("APP_PORT", "4000"),
			CORSOrigins: env.GetEnv("CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000"),
			RateLimit:   int(env.GetEnvInt64("RATE_LIMIT_PER_MINUTE", 120)),
		},
		DB: DBConfig{
			Driver:   strings.ToLower(env.GetEnv("DB_DRIVER", "mysql")),
			Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
			Port:     env.GetEnv("DB_PORT", "3306"),
			User:     env.GetEnv("DB_USER", ""),
			Password: env.GetEnv("DB_PASSWORD", ""),
			Name:     env.GetEnv("DB_NAME", ""),
			Path:     env.GetEnv("DB_PATH", "data/handlepay.sqlite"),
		},
		Chain: ChainConfig{
			RPCURL:         env.GetEnv("CHAIN_RPC_URL", env.GetEnv("TEMPO_RPC_URL", "")),
			ChainID:        env.GetEnvInt64("CHAIN_ID", 42431),
			Name:           env.GetEnv("CHAIN_NAME", "tempo"),
			FeeSponsored:   env.GetEnvBool("CHAIN_FEE_SPONSORED", true),
			RPCTimeout:     env.GetEnvDuration("CHAIN_RPC_TIMEOUT", 15*time.Second),
			ReceiptTimeout: env.GetEnvDuration("CHAIN_RECEIPT_TIMEOUT", DefaultReceiptTimeout),
		},
		Indexer: IndexerConfig{
			Enabled:       env.GetEnvBool("INDEXER_ENABLED", true),
			StartBlock:    env.GetEnvInt64("INDEXER_START_BLOCK", 0),
			MaxLogRange:   env.GetEnvInt64("INDEXER_MAX_LOG_RANGE", 100000),
			Confirmations: env.GetEnvInt64("INDEXER_CONFIRMATIONS", 1),
			ReorgWindow:   env.GetEnvInt64("INDEXER_REORG_WINDOW", 64),
			Interval:      env.GetEnvDuration("INDEXER_INTERVAL", 30*time.Second),
		},
		Notify: NotifyConfig{
			Enabled:        env.GetEnvBool("NOTIFY_ENABLED", true),
			Provider:       strings.ToLower(env.GetEnv("NOTIFY_PROVIDER", "log")),
			RetryMax:       int(env.GetEnvInt64("NOTIFY_RETRY_MAX", 5)),
			RetryBase:      env.GetEnvDuration("NOTIFY_RETRY_BASE", 5*time.Second),
			WorkerInterval: env.GetEnvDuration("NOTIFY_WORKER_INTERVAL", 5*time.Second),
			BatchSize:      int(env.GetEnvInt64("NOTIFY_BATCH_SIZE", 50)),
			WebhookURL:     env.GetEnv("NOTIFY_WEBHOOK_URL", ""),
			SMTP: SMTPConfig{
				Host:     env.GetEnv("SMTP_HOST", ""),
				Port:     env.GetEnv("SMTP_PORT", "587"),
				Username: env.GetEnv("SMTP_USERNAME", ""),
				Password: env.GetEnv("SMTP_PASSWORD", ""),
				Sender:   env.GetEnv("SMTP_SENDER", ""),
			},
		},
		Auth: AuthConfig{
			AllowInsecureDev: env.GetEnvBool("AUTH_ALLOW_INSECURE_DEV", false),
			JWTSecret:        env.GetEnv("AUTH_JWT_SECRET", ""),
			Issuer:           env.GetEnv("AUTH_ISSUER", ""),
			Audience:         env.GetEnv("AUTH_AUDIENCE", ""),
			AdminSubs:        env.GetEnvList("ADMIN_SUBS"),
			AdminEmails:      lowerAll(env.GetEnvList("ADMIN_EMAILS")),
		},
		Custody: CustodyConfig{
			EncryptionSecret: env.GetEnv("CUSTODIAL_KEY_ENCRYPTION_SECRET", ""),
			OwnerWallet:      env.GetEnv("WALLET_ADDRESS", ""),
			OwnerPrivateKey:  env.GetEnv("DEPLOYER_PRIVATE_KEY", ""),
			OwnerHandle:      env.GetEnv("DEFAULT_SENDER_HANDLE", "owner@local"),
		},
		Cache: CacheConfig{
			Host:       env.GetEnv("CACHE_HOST", ""),
			Port:       env.GetEnv("CACHE_PORT", "6379"),
			Password:   env.GetEnv("CACHE_PASSWORD", ""),
			BalanceTTL: env.GetEnvDuration("BALANCE_CACHE_TTL", 10*time.Second),
		},
	}

	stablecoins, err := LoadStablecoins()
	if err != nil {
		return nil, err
	}
	cfg.Stablecoins = stablecoins

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	v := validator.New()
	for _, section := range []any{c.DB, c.Chain, c.Indexer, c.Notify} {
		if err := v.Struct(section); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if c.Notify.Enabled && c.Notify.Provider == "webhook" && c.Notify.WebhookURL == "" {
		return errors.New("NOTIFY_WEBHOOK_URL is required for webhook provider")
	}
	if c.Notify.Enabled && c.Notify.Provider == "smtp" && c.Notify.SMTP.Host == "" {
		return errors.New("SMTP_HOST is required for smtp provider")
	}
	if c.Auth.AllowInsecureDev && c.App.Env == "prod" {
		return errors.New("AUTH_ALLOW_INSECURE_DEV must be false in production")
	}
	if !c.Auth.AllowInsecureDev && c.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required unless AUTH_ALLOW_INSECURE_DEV is set")
	}
	if c.DB.Driver == "sqlite" && c.DB.Path == "" {
		return errors.New("DB_PATH is required for sqlite driver")
	}
	return nil
}

// IsAdmin applies the role, ADMIN_SUBS and ADMIN_EMAILS rules.
func (a AuthConfig) IsAdmin(subject, email, role string) bool {
	if role == "admin" {
		return true
	}
	for _, s := range a.AdminSubs {
		if s == subject {
			return true
		}
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, e := range a.AdminEmails {
		if e == email {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}
