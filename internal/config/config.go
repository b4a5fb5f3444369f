// Package config 加载服务配置：先取默认值，再叠加 YAML 文件，最后由 LICENSE_ 前缀的环境变量覆盖。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "LICENSE"

const (
	LedgerSQLite = "sqlite"
	LedgerRedis  = "redis"
)

type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Ledger   LedgerConfig   `yaml:"ledger" envconfig:"LEDGER"`
	Keys     KeysConfig     `yaml:"keys" envconfig:"KEYS"`
	Salts    SaltsConfig    `yaml:"salts" envconfig:"SALTS"`
	Hasher   HasherConfig   `yaml:"hasher" envconfig:"HASHER"`
	Auth     AuthConfig     `yaml:"auth" envconfig:"AUTH"`
	Notify   NotifyConfig   `yaml:"notify" envconfig:"NOTIFY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Seed     SeedConfig     `yaml:"seed" envconfig:"SEED"`
}

type ServerConfig struct {
	Addr              string          `yaml:"addr" envconfig:"ADDR"`
	TrustProxyHeaders bool            `yaml:"trust_proxy_headers" envconfig:"TRUST_PROXY_HEADERS"`
	ReadTimeout       time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout      time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	RateLimit         RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" envconfig:"PATH"`
}

type LedgerConfig struct {
	Driver    string `yaml:"driver" envconfig:"DRIVER"`
	RedisURL  string `yaml:"redis_url" envconfig:"REDIS_URL"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
}

type KeysConfig struct {
	Dir string `yaml:"dir" envconfig:"DIR"`
}

// SaltsConfig 许可证密钥和 IP 的哈希盐，部署后不能修改，否则已有记录将无法查到
type SaltsConfig struct {
	Licenses string `yaml:"licenses" envconfig:"LICENSES"`
	IPs      string `yaml:"ips" envconfig:"IPS"`
}

type HasherConfig struct {
	Time      uint32 `yaml:"time" envconfig:"TIME"`
	MemoryKiB uint32 `yaml:"memory_kib" envconfig:"MEMORY_KIB"`
	Threads   uint8  `yaml:"threads" envconfig:"THREADS"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	TokenTTL      time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL"`
	AdminUsername string        `yaml:"admin_username" envconfig:"ADMIN_USERNAME"`
	AdminPassword string        `yaml:"admin_password" envconfig:"ADMIN_PASSWORD"`
}

// NotifyConfig 各事件类型的通知开关
type NotifyConfig struct {
	Uses              bool         `yaml:"uses" envconfig:"USES"`
	Expired           bool         `yaml:"expired" envconfig:"EXPIRED"`
	IPLimitExceeded   bool         `yaml:"ip_limit_exceeded" envconfig:"IP_LIMIT_EXCEEDED"`
	HWIDLimitExceeded bool         `yaml:"hwid_limit_exceeded" envconfig:"HWID_LIMIT_EXCEEDED"`
	OwnerNewIP        bool         `yaml:"owner_new_ip" envconfig:"OWNER_NEW_IP"`
	OwnerNewHWID      bool         `yaml:"owner_new_hwid" envconfig:"OWNER_NEW_HWID"`
	Audit             bool         `yaml:"audit" envconfig:"AUDIT"`
	QueueSize         int          `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
	Sheets            SheetsConfig `yaml:"sheets" envconfig:"SHEETS"`
	Kafka             KafkaConfig  `yaml:"kafka" envconfig:"KAFKA"`
}

type SheetsConfig struct {
	Enabled         bool   `yaml:"enabled" envconfig:"ENABLED"`
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	SpreadsheetID   string `yaml:"spreadsheet_id" envconfig:"SPREADSHEET_ID"`
	SheetName       string `yaml:"sheet_name" envconfig:"SHEET_NAME"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" envconfig:"BROKERS"`
	Topic   string   `yaml:"topic" envconfig:"TOPIC"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

type SeedConfig struct {
	DefaultLicense bool   `yaml:"default_license" envconfig:"DEFAULT_LICENSE"`
	Product        string `yaml:"product" envconfig:"PRODUCT"`
}

// Default 返回默认配置，盐和 JWT 密钥没有默认值
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":7500",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			RateLimit:    RateLimitConfig{Enabled: true, RPS: 5, Burst: 10},
		},
		Database: DatabaseConfig{Path: "data/license.db"},
		Ledger:   LedgerConfig{Driver: LedgerSQLite, KeyPrefix: "license"},
		Keys:     KeysConfig{Dir: "data"},
		Hasher:   HasherConfig{Time: 2, MemoryKiB: 19 * 1024, Threads: 1},
		Auth:     AuthConfig{TokenTTL: 24 * time.Hour, AdminUsername: "admin"},
		Notify: NotifyConfig{
			Uses:              true,
			Expired:           true,
			IPLimitExceeded:   true,
			HWIDLimitExceeded: true,
			Audit:             true,
			QueueSize:         256,
			Sheets:            SheetsConfig{SheetName: "Usage"},
			Kafka:             KafkaConfig{Topic: "license-events"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Seed:    SeedConfig{DefaultLicense: true, Product: "Example"},
	}
}

// Load 读取配置文件（不存在时跳过）并应用环境变量
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.Salts.Licenses) < 16 || len(c.Salts.IPs) < 16 {
		errs = append(errs, errors.New("salts.licenses and salts.ips must be at least 16 characters"))
	}
	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 characters"))
	}
	switch c.Ledger.Driver {
	case LedgerSQLite:
	case LedgerRedis:
		if c.Ledger.RedisURL == "" {
			errs = append(errs, errors.New("ledger.redis_url is required for the redis ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver))
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RPS <= 0 || c.Server.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("server.rate_limit rps and burst must be positive"))
	}
	if c.Notify.Sheets.Enabled && (c.Notify.Sheets.CredentialsFile == "" || c.Notify.Sheets.SpreadsheetID == "") {
		errs = append(errs, errors.New("notify.sheets requires credentials_file and spreadsheet_id"))
	}
	if c.Notify.QueueSize <= 0 {
		errs = append(errs, errors.New("notify.queue_size must be positive"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown logging format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}
