package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// EnvPrefix is the prefix of every environment variable read by Load,
// e.g. BUDGET_ACCOUNTS_SOURCE.
const EnvPrefix = "budget"

// Default values applied by validateAndAddDefaults.
const (
	DefaultLogLevel            = "info"
	DefaultTimezone            = "UTC"
	DefaultRunTimeout          = 10 * time.Minute
	DefaultMaxRetries          = 3
	DefaultBaseDelay           = 500 * time.Millisecond
	DefaultMaxDelay            = 30 * time.Second
	DefaultJitter              = 0.2
	DefaultBreakerThreshold    = 5
	DefaultBreakerCoolDown     = 60 * time.Second
	DefaultMinimumTransfer     = "1.00"
	DefaultVerifyTimeout       = 2 * time.Minute
	DefaultPollInterval        = 5 * time.Second
	DefaultCoverageThreshold   = 0.95
	DefaultSimilarityThreshold = 0.8
	DefaultDataset             = "finance"
	DefaultGeminiModel         = "gemini-2.5-flash"
	DefaultBankTimeout         = 30 * time.Second
	DefaultBankTokenEnv        = "BANK_API_TOKEN"
	DefaultSMTPPort            = 587
	DefaultIdempotencyTTL      = 14 * 24 * time.Hour
)

var ConfigStore atomic.Value

// Duration is a time.Duration that reads from JSON strings ("90s") or
// numbers (nanoseconds) and from environment values.
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val)
		return nil
	case string:
		return d.Decode(val)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type AccountsConfig struct {
	Source  string `json:"source" envconfig:"SOURCE"`
	Savings string `json:"savings" envconfig:"SAVINGS"`
}

type RetryConfig struct {
	MaxRetries int      `json:"max_retries" envconfig:"MAX_RETRIES"`
	BaseDelay  Duration `json:"base_delay" envconfig:"BASE_DELAY"`
	MaxDelay   Duration `json:"max_delay" envconfig:"MAX_DELAY"`
	Jitter     float64  `json:"jitter" envconfig:"JITTER"`
}

type BreakerConfig struct {
	Threshold uint32   `json:"threshold" envconfig:"THRESHOLD"`
	CoolDown  Duration `json:"cool_down" envconfig:"COOL_DOWN"`
}

type TransferConfig struct {
	// Minimum is unset until configured; an explicit 0 transfers any surplus.
	Minimum       decimal.NullDecimal `json:"minimum" envconfig:"MINIMUM"`
	VerifyTimeout Duration            `json:"verify_timeout" envconfig:"VERIFY_TIMEOUT"`
	PollInterval  Duration            `json:"poll_interval" envconfig:"POLL_INTERVAL"`
}

type CategorizationConfig struct {
	CoverageThreshold   float64 `json:"coverage_threshold" envconfig:"COVERAGE_THRESHOLD"`
	SimilarityThreshold float64 `json:"similarity_threshold" envconfig:"SIMILARITY_THRESHOLD"`
}

type BigQueryConfig struct {
	ProjectID string `json:"project_id" envconfig:"PROJECT_ID"`
	Dataset   string `json:"dataset" envconfig:"DATASET"`
}

type StorageConfig struct {
	Bucket string `json:"bucket" envconfig:"BUCKET"`
}

type GeminiConfig struct {
	APIKey string `json:"api_key" envconfig:"API_KEY"`
	Model  string `json:"model" envconfig:"MODEL"`
}

type BankConfig struct {
	BaseURL  string   `json:"base_url" envconfig:"BASE_URL"`
	TokenEnv string   `json:"token_env" envconfig:"TOKEN_ENV"`
	Timeout  Duration `json:"timeout" envconfig:"TIMEOUT"`
}

type SMTPConfig struct {
	Host     string `json:"host" envconfig:"HOST"`
	Port     int    `json:"port" envconfig:"PORT"`
	Username string `json:"username" envconfig:"USERNAME"`
	Password string `json:"password" envconfig:"PASSWORD"`
	From     string `json:"from" envconfig:"FROM"`
}

type ReportConfig struct {
	Recipients []string `json:"recipients" envconfig:"RECIPIENTS"`
}

type RedisConfig struct {
	Addr           string   `json:"addr" envconfig:"ADDR"`
	IdempotencyTTL Duration `json:"idempotency_ttl" envconfig:"IDEMPOTENCY_TTL"`
}

type NotificationConfig struct {
	WebhookURL string `json:"webhook_url" envconfig:"WEBHOOK_URL"`
}

type Configuration struct {
	LogLevel       string               `json:"log_level" envconfig:"LOG_LEVEL"`
	Timezone       string               `json:"timezone" envconfig:"TIMEZONE"`
	RunTimeout     Duration             `json:"run_timeout" envconfig:"RUN_TIMEOUT"`
	Accounts       AccountsConfig       `json:"accounts" envconfig:"ACCOUNTS"`
	Retry          RetryConfig          `json:"retry" envconfig:"RETRY"`
	Breaker        BreakerConfig        `json:"breaker" envconfig:"BREAKER"`
	Transfer       TransferConfig       `json:"transfer" envconfig:"TRANSFER"`
	Categorization CategorizationConfig `json:"categorization" envconfig:"CATEGORIZATION"`
	BigQuery       BigQueryConfig       `json:"bigquery" envconfig:"BIGQUERY"`
	Storage        StorageConfig        `json:"storage" envconfig:"STORAGE"`
	Gemini         GeminiConfig         `json:"gemini" envconfig:"GEMINI"`
	Bank           BankConfig           `json:"bank" envconfig:"BANK"`
	SMTP           SMTPConfig           `json:"smtp" envconfig:"SMTP"`
	Report         ReportConfig         `json:"report" envconfig:"REPORT"`
	Redis          RedisConfig          `json:"redis" envconfig:"REDIS"`
	Notification   NotificationConfig   `json:"notification" envconfig:"NOTIFICATION"`
}

// Location resolves the configured reference timezone.
func (cnf *Configuration) Location() (*time.Location, error) {
	return time.LoadLocation(cnf.Timezone)
}

func loadConfigFromFile(file string) (*Configuration, error) {
	var cnf Configuration
	if file != "" {
		f, err := os.Open(file)
		switch {
		case err == nil:
			defer f.Close()
			if err := json.NewDecoder(f).Decode(&cnf); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", file, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// environment only
		default:
			return nil, err
		}
	}

	// override config from environment variables
	if err := envconfig.Process(EnvPrefix, &cnf); err != nil {
		return nil, err
	}

	if err := cnf.validateAndAddDefaults(); err != nil {
		return nil, err
	}
	return &cnf, nil
}

// Load reads the optional JSON file, applies environment overrides and
// defaults, validates the result and stores it for Fetch.
func Load(file string) (*Configuration, error) {
	cnf, err := loadConfigFromFile(file)
	if err != nil {
		return nil, err
	}
	ConfigStore.Store(cnf)
	return cnf, nil
}

// Fetch returns the configuration stored by Load or MockConfig.
func Fetch() (*Configuration, error) {
	c, ok := ConfigStore.Load().(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	cnf.LogLevel = strings.TrimSpace(cnf.LogLevel)
	cnf.Accounts.Source = strings.TrimSpace(cnf.Accounts.Source)
	cnf.Accounts.Savings = strings.TrimSpace(cnf.Accounts.Savings)
	cnf.BigQuery.ProjectID = strings.TrimSpace(cnf.BigQuery.ProjectID)
	cnf.Bank.BaseURL = strings.TrimRight(strings.TrimSpace(cnf.Bank.BaseURL), "/")

	if cnf.LogLevel == "" {
		cnf.LogLevel = DefaultLogLevel
	}
	if cnf.Timezone == "" {
		cnf.Timezone = DefaultTimezone
	}
	if cnf.RunTimeout.Duration <= 0 {
		cnf.RunTimeout.Duration = DefaultRunTimeout
	}
	if cnf.Retry.MaxRetries <= 0 {
		cnf.Retry.MaxRetries = DefaultMaxRetries
	}
	if cnf.Retry.BaseDelay.Duration <= 0 {
		cnf.Retry.BaseDelay.Duration = DefaultBaseDelay
	}
	if cnf.Retry.MaxDelay.Duration <= 0 {
		cnf.Retry.MaxDelay.Duration = DefaultMaxDelay
	}
	if cnf.Retry.Jitter <= 0 {
		cnf.Retry.Jitter = DefaultJitter
	}
	if cnf.Breaker.Threshold == 0 {
		cnf.Breaker.Threshold = DefaultBreakerThreshold
	}
	if cnf.Breaker.CoolDown.Duration <= 0 {
		cnf.Breaker.CoolDown.Duration = DefaultBreakerCoolDown
	}
	if !cnf.Transfer.Minimum.Valid {
		cnf.Transfer.Minimum = decimal.NewNullDecimal(decimal.RequireFromString(DefaultMinimumTransfer))
	}
	if cnf.Transfer.VerifyTimeout.Duration <= 0 {
		cnf.Transfer.VerifyTimeout.Duration = DefaultVerifyTimeout
	}
	if cnf.Transfer.PollInterval.Duration <= 0 {
		cnf.Transfer.PollInterval.Duration = DefaultPollInterval
	}
	if cnf.Categorization.CoverageThreshold <= 0 {
		cnf.Categorization.CoverageThreshold = DefaultCoverageThreshold
	}
	if cnf.Categorization.SimilarityThreshold <= 0 {
		cnf.Categorization.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cnf.BigQuery.Dataset == "" {
		cnf.BigQuery.Dataset = DefaultDataset
	}
	if cnf.Gemini.Model == "" {
		cnf.Gemini.Model = DefaultGeminiModel
	}
	if cnf.Bank.TokenEnv == "" {
		cnf.Bank.TokenEnv = DefaultBankTokenEnv
	}
	if cnf.Bank.Timeout.Duration <= 0 {
		cnf.Bank.Timeout.Duration = DefaultBankTimeout
	}
	if cnf.SMTP.Port == 0 {
		cnf.SMTP.Port = DefaultSMTPPort
	}
	if cnf.Redis.IdempotencyTTL.Duration <= 0 {
		cnf.Redis.IdempotencyTTL.Duration = DefaultIdempotencyTTL
	}

	return validation.Errors{
		"accounts.source":                     validation.Validate(cnf.Accounts.Source, validation.Required),
		"accounts.savings":                    validation.Validate(cnf.Accounts.Savings, validation.Required, validation.NotIn(cnf.Accounts.Source).Error("must differ from the source account")),
		"bigquery.project_id":                 validation.Validate(cnf.BigQuery.ProjectID, validation.Required),
		"report.recipients":                   validation.Validate(cnf.Report.Recipients, validation.Required),
		"timezone":                            validation.Validate(cnf.Timezone, validation.By(validTimezone)),
		"transfer.minimum":                    validation.Validate(cnf.Transfer.Minimum.Decimal, validation.By(nonNegativeDecimal)),
		"categorization.coverage_threshold":   validation.Validate(cnf.Categorization.CoverageThreshold, validation.Max(1.0)),
		"categorization.similarity_threshold": validation.Validate(cnf.Categorization.SimilarityThreshold, validation.Max(1.0)),
		"retry.jitter":                        validation.Validate(cnf.Retry.Jitter, validation.Max(1.0)),
	}.Filter()
}

func validTimezone(value interface{}) error {
	name, _ := value.(string)
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("unknown timezone %q", name)
	}
	return nil
}

func nonNegativeDecimal(value interface{}) error {
	d, _ := value.(decimal.Decimal)
	if d.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}
