package db

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "config/config.yaml"

// 環境変数での上書き（秘密情報を yaml に置かないため）
const (
	EnvDBPassword = "LIBRIS_DB_PASSWORD"
	EnvJWTSecret  = "LIBRIS_JWT_SECRET"
)

const (
	DriverMySQL    = "mysql"
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`

	// 起動時に CREATE TABLE IF NOT EXISTS を流す
	InitSchema bool `yaml:"init_schema"`

	// memory ドライバのみ。空ならスナップショットしない
	SnapshotPath string `yaml:"snapshot_path"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowOrigins    []string      `yaml:"allow_origins"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type PolicyConfig struct {
	LoanPeriodDays int    `yaml:"loan_period_days"`
	DailyRate      string `yaml:"daily_rate"`
}

type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	FineInterval time.Duration `yaml:"fine_interval"`
	RunOnStart   bool          `yaml:"run_on_start"`
}

// TelemetryConfig は OTLP(gRPC) へのメトリクス送信設定。
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint"`
	Insecure       bool          `yaml:"insecure"`
	ExportInterval time.Duration `yaml:"export_interval"`
	ServiceName    string        `yaml:"service_name"`
}

type Config struct {
	Version     string          `yaml:"version"`
	Mode        string          `yaml:"mode"`
	Server      ServerConfig    `yaml:"server"`
	DB          DatabaseConfig  `yaml:"database"`
	Certificate Certs           `yaml:"certificate"`
	Auth        AuthConfig      `yaml:"auth"`
	Policy      PolicyConfig    `yaml:"policy"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	return ParseConfig(buf)
}

// ParseConfig は yaml を読み、デフォルトと環境変数を反映してから検証する。
func ParseConfig(buf []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定値が不正: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if len(c.Server.AllowOrigins) == 0 {
		c.Server.AllowOrigins = []string{"http://localhost:3000"}
	}

	if c.DB.Driver == "" {
		c.DB.Driver = DriverMySQL
	}
	if c.DB.Port == 0 {
		switch c.DB.Driver {
		case DriverMySQL:
			c.DB.Port = 3306
		case DriverPgx, DriverPostgres:
			c.DB.Port = 5432
		}
	}
	if c.DB.SSLMode == "" {
		c.DB.SSLMode = "disable"
	}
	// 接続プール（合算がDBの max_connections を超えないよう配分する）
	if c.DB.MaxOpenConns == 0 {
		c.DB.MaxOpenConns = 80
	}
	if c.DB.MaxIdleConns == 0 {
		c.DB.MaxIdleConns = 20
	}
	if c.DB.ConnMaxLifetime == 0 {
		c.DB.ConnMaxLifetime = 30 * time.Minute
	}
	if c.DB.ConnMaxIdleTime == 0 {
		c.DB.ConnMaxIdleTime = 5 * time.Minute
	}

	if c.Policy.LoanPeriodDays == 0 {
		c.Policy.LoanPeriodDays = 14
	}
	if strings.TrimSpace(c.Policy.DailyRate) == "" {
		c.Policy.DailyRate = "10"
	}
	if c.Scheduler.FineInterval == 0 {
		c.Scheduler.FineInterval = 24 * time.Hour
	}

	if c.Telemetry.OTLPEndpoint == "" {
		c.Telemetry.OTLPEndpoint = "localhost:4317"
	}
	if c.Telemetry.ExportInterval == 0 {
		c.Telemetry.ExportInterval = 30 * time.Second
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "libris-backend"
	}
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvDBPassword); ok {
		c.DB.Password = v
	}
	if v, ok := os.LookupEnv(EnvJWTSecret); ok {
		c.Auth.JWTSecret = v
	}
}

func (c *Config) Validate() error {
	var errs []error

	if c.Mode != "dev" && c.Mode != "release" {
		errs = append(errs, fmt.Errorf("mode must be dev or release: %q", c.Mode))
	}
	switch c.DB.Driver {
	case DriverMySQL, DriverPgx, DriverPostgres:
		if c.DB.Host == "" || c.DB.DBName == "" {
			errs = append(errs, errors.New("database.host and database.dbname are required"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver: %q", c.DB.Driver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("auth.jwt_secret (or %s) is required", EnvJWTSecret))
	}
	if c.Policy.LoanPeriodDays < 1 {
		errs = append(errs, errors.New("policy.loan_period_days must be >= 1"))
	}
	if rate, err := decimal.NewFromString(c.Policy.DailyRate); err != nil {
		errs = append(errs, fmt.Errorf("policy.daily_rate: %w", err))
	} else if rate.IsNegative() {
		errs = append(errs, errors.New("policy.daily_rate must be >= 0"))
	}
	if c.Scheduler.FineInterval < time.Second {
		errs = append(errs, errors.New("scheduler.fine_interval must be >= 1s"))
	}
	if c.Telemetry.Enabled && c.Telemetry.ExportInterval < time.Second {
		errs = append(errs, errors.New("telemetry.export_interval must be >= 1s"))
	}

	return errors.Join(errs...)
}

// LoanPeriod と DailyRate は Validate 済みの値を前提にする。
func (p PolicyConfig) LoanPeriod() time.Duration {
	return time.Duration(p.LoanPeriodDays) * 24 * time.Hour
}

func (p PolicyConfig) Rate() decimal.Decimal {
	return decimal.RequireFromString(p.DailyRate)
}

// Dialect は goqu の方言名。
func (d DatabaseConfig) Dialect() string {
	switch d.Driver {
	case DriverPgx, DriverPostgres:
		return "postgres"
	default:
		return "mysql"
	}
}
