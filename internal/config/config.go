package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rowpledge/internal/domain"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Sync        SyncConfig        `yaml:"sync"`
	Campaign    CampaignConfig    `yaml:"campaign"`
	Concept2    Concept2Config    `yaml:"concept2"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Admin       AdminConfig       `yaml:"admin"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	PublicURL    string        `yaml:"public_url"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// KafkaConfig holds Kafka connection configuration for the webhook event topic
type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"`
	Topic          string        `yaml:"topic"`
	GroupID        string        `yaml:"group_id"`
	Enabled        bool          `yaml:"enabled"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

// SyncConfig holds batch synchronization worker configuration
type SyncConfig struct {
	Schedule    string `yaml:"schedule"`
	Concurrency int    `yaml:"concurrency"`
	Enabled     bool   `yaml:"enabled"`
}

// CampaignConfig describes the pledge campaign window
type CampaignConfig struct {
	Name     string `yaml:"name"`
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Timezone string `yaml:"timezone"`
}

// Location resolves the campaign time zone
func (c *CampaignConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading campaign timezone: %w", err)
	}
	return loc, nil
}

// Window returns the campaign window
func (c *CampaignConfig) Window() (domain.Window, error) {
	loc, err := c.Location()
	if err != nil {
		return domain.Window{}, err
	}
	return domain.NewWindow(c.Start, c.End, loc)
}

// Concept2Config holds logbook API and OAuth client configuration
type Concept2Config struct {
	BaseURL           string        `yaml:"base_url"`
	ClientID          string        `yaml:"client_id"`
	ClientSecret      string        `yaml:"client_secret"`
	RedirectURI       string        `yaml:"redirect_uri"`
	Scope             string        `yaml:"scope"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	PageSize          int           `yaml:"page_size"`
}

// WebhookConfig holds inbound webhook configuration
type WebhookConfig struct {
	Path   string `yaml:"path"`
	Secret string `yaml:"secret"`
}

// AdminConfig holds signing parameters for admin tokens and OAuth state
type AdminConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	StateTTL  time.Duration `yaml:"state_ttl"`
}

// TelegramConfig holds chat bot configuration
type TelegramConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Token    string  `yaml:"token"`
	AdminIDs []int64 `yaml:"admin_ids"`
}

// LeaderboardConfig holds leaderboard-specific configuration
type LeaderboardConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration after expanding environment variables
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Validate checks the values that have no sensible default
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Campaign.Window(); err != nil {
		errs = append(errs, fmt.Errorf("campaign: %w", err))
	}
	if c.Concept2.ClientID == "" || c.Concept2.ClientSecret == "" {
		errs = append(errs, errors.New("concept2: client_id and client_secret are required"))
	}
	if c.Admin.JWTSecret == "" {
		errs = append(errs, errors.New("admin: jwt_secret is required"))
	}
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram: token is required when enabled"))
	}
	return errors.Join(errs...)
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "rowpledge.sqlite"
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 1
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 1
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "rowpledge"
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "concept2-webhooks"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "rowpledge-ingestor"
	}
	if c.Kafka.HandlerTimeout == 0 {
		c.Kafka.HandlerTimeout = 10 * time.Second
	}

	// Sync defaults
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "@every 30m"
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = 4
	}

	// Campaign defaults
	if c.Campaign.Name == "" {
		c.Campaign.Name = "Erg-A-Thon"
	}

	// Concept2 defaults
	if c.Concept2.BaseURL == "" {
		c.Concept2.BaseURL = "https://log.concept2.com"
	}
	if c.Concept2.Scope == "" {
		c.Concept2.Scope = "user:read,results:read"
	}
	if c.Concept2.Timeout == 0 {
		c.Concept2.Timeout = 15 * time.Second
	}
	if c.Concept2.RequestsPerSecond == 0 {
		c.Concept2.RequestsPerSecond = 5
	}
	if c.Concept2.Burst == 0 {
		c.Concept2.Burst = 5
	}
	if c.Concept2.PageSize == 0 {
		c.Concept2.PageSize = 100
	}

	// Webhook defaults
	if c.Webhook.Path == "" {
		c.Webhook.Path = "/webhooks/concept2"
	}

	// Admin defaults
	if c.Admin.Issuer == "" {
		c.Admin.Issuer = "rowpledge"
	}
	if c.Admin.StateTTL == 0 {
		c.Admin.StateTTL = 15 * time.Minute
	}

	// Leaderboard defaults
	if c.Leaderboard.CacheTTL == 0 {
		c.Leaderboard.CacheTTL = 5 * time.Minute
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	return cfg
}
