// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/terminal-bench/poolledger/pkg/units"
)

// Config holds every setting of the ledger service
type Config struct {
	Port   string `env:"PORT" envDefault:"8080"`
	PoolID string `env:"POOL_ID" envDefault:"default"`
	Node   string `env:"NODE_NAME" envDefault:"ledger-0"`

	WithdrawalThreshold uint64 `env:"WITHDRAWAL_THRESHOLD" envDefault:"1000"`
	BankCap             uint64 `env:"BANK_CAP" envDefault:"10000"`
	UnitDecimals        int32  `env:"UNIT_DECIMALS" envDefault:"0"`

	DatabaseURL string `env:"DATABASE_URL"`

	NATSURL         string        `env:"NATS_URL"`
	PayoutSubject   string        `env:"PAYOUT_SUBJECT" envDefault:"payout.request"`
	PayoutTimeout   time.Duration `env:"PAYOUT_TIMEOUT" envDefault:"5s"`
	SimulatePayouts bool          `env:"SIMULATE_PAYOUTS" envDefault:"false"`

	BreakerMaxFailures int           `env:"BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerTimeout     time.Duration `env:"BREAKER_TIMEOUT" envDefault:"30s"`

	RedisURL        string        `env:"REDIS_URL"`
	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"100"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	JWTSecret   string        `env:"JWT_SECRET"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	IssueTokens bool          `env:"ISSUE_TOKENS" envDefault:"false"`

	InfluxURL    string `env:"INFLUX_URL"`
	InfluxToken  string `env:"INFLUX_TOKEN"`
	InfluxOrg    string `env:"INFLUX_ORG"`
	InfluxBucket string `env:"INFLUX_BUCKET" envDefault:"ledger"`

	EtcdEndpoints  []string `env:"ETCD_ENDPOINTS" envSeparator:","`
	ElectionPrefix string   `env:"ELECTION_PREFIX" envDefault:"/poolledger/leader"`

	LogLevel string `env:"LOG_LEVEL"`
	Debug    bool   `env:"DEBUG" envDefault:"false"`
}

// Load parses the environment and validates the result
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with
func (c Config) Validate() error {
	var errs []error
	if c.WithdrawalThreshold == 0 {
		errs = append(errs, errors.New("WITHDRAWAL_THRESHOLD must be positive"))
	}
	if c.BankCap == 0 {
		errs = append(errs, errors.New("BANK_CAP must be positive"))
	}
	if c.UnitDecimals < 0 || c.UnitDecimals > units.MaxDecimals {
		errs = append(errs, fmt.Errorf("UNIT_DECIMALS must be between 0 and %d", units.MaxDecimals))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.RateLimitMax < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must not be negative"))
	} else if c.RedisURL != "" && c.RateLimitMax < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must be at least 1 when REDIS_URL is set"))
	}
	if c.RedisURL != "" && c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if c.SimulatePayouts && c.NATSURL == "" {
		errs = append(errs, errors.New("SIMULATE_PAYOUTS needs NATS_URL"))
	}
	if c.InfluxURL != "" && c.InfluxOrg == "" {
		errs = append(errs, errors.New("INFLUX_ORG is required with INFLUX_URL"))
	}
	return errors.Join(errs...)
}

// Addr is the HTTP listen address
func (c Config) Addr() string {
	return ":" + c.Port
}
