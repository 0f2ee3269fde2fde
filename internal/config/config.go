package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultTimezone = "Asia/Ho_Chi_Minh"

type Config struct {
	App         AppConfig         `yaml:"app"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Storage     StorageConfig     `yaml:"storage"`
	ExternalAPI ExternalAPIConfig `yaml:"external_api"`
	Workers     WorkersConfig     `yaml:"workers"`
	Import      ImportConfig      `yaml:"import"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env" validate:"omitempty,oneof=development staging production test"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadSize   int64         `yaml:"max_upload_size" validate:"min=1"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver             string        `yaml:"driver" validate:"oneof=mysql postgres"`
	Host               string        `yaml:"host" validate:"required"`
	Port               int           `yaml:"port" validate:"min=1,max=65535"`
	User               string        `yaml:"user" validate:"required"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name" validate:"required"`
	Charset            string        `yaml:"charset"`
	ParseTime          bool          `yaml:"parse_time"`
	Loc                string        `yaml:"loc"`
	SSLMode            string        `yaml:"ssl_mode"`
	MaxConnections     int           `yaml:"max_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`
	ConnectionLifetime time.Duration `yaml:"connection_lifetime"`
}

type RedisConfig struct {
	Host           string `yaml:"host" validate:"required"`
	Port           int    `yaml:"port" validate:"min=1,max=65535"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	PoolSize       int    `yaml:"pool_size"`
	IngestionQueue string `yaml:"ingestion_queue" validate:"required"`
	SubmitQueue    string `yaml:"submit_queue" validate:"required"`
	DLQSuffix      string `yaml:"dlq_suffix"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket" validate:"required"`
	Region    string `yaml:"region" validate:"required"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

type ExternalAPIConfig struct {
	Backend BackendConfig `yaml:"backend"`
}

// BackendConfig points at the scheduling backend that owns the entities.
type BackendConfig struct {
	BaseURL       string        `yaml:"base_url" validate:"required,url"`
	AuthEndpoint  string        `yaml:"auth_endpoint"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	TokenExpires  time.Duration `yaml:"token_expires"`
	Timeout       time.Duration `yaml:"timeout"`
	BatchSize     int           `yaml:"batch_size" validate:"min=1"`
	RetryAttempts int           `yaml:"retry_attempts" validate:"min=0"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	RateLimit     float64       `yaml:"rate_limit" validate:"min=0"`
	Burst         int           `yaml:"burst" validate:"min=1"`
}

type WorkersConfig struct {
	Ingestion IngestionWorkerConfig `yaml:"ingestion"`
	Submit    SubmitWorkerConfig    `yaml:"submit"`
}

type IngestionWorkerConfig struct {
	Count int `yaml:"count" validate:"min=1"`
}

type SubmitWorkerConfig struct {
	Count     int `yaml:"count" validate:"min=1"`
	BatchSize int `yaml:"batch_size" validate:"min=1"`
}

type ImportConfig struct {
	Timezone string `yaml:"timezone"`
	MaxRows  int    `yaml:"max_rows" validate:"min=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

func Load() (*Config, error) {
	// .env is optional; variables already set in the environment win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults, then
// validates the result.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv() error {
	overrides := map[string]*string{
		"DB_HOST":          &c.Database.Host,
		"DB_USER":          &c.Database.User,
		"DB_PASSWORD":      &c.Database.Password,
		"DB_NAME":          &c.Database.Name,
		"REDIS_HOST":       &c.Redis.Host,
		"REDIS_PASSWORD":   &c.Redis.Password,
		"S3_ACCESS_KEY":    &c.Storage.S3.AccessKey,
		"S3_SECRET_KEY":    &c.Storage.S3.SecretKey,
		"S3_BUCKET":        &c.Storage.S3.Bucket,
		"BACKEND_BASE_URL": &c.ExternalAPI.Backend.BaseURL,
		"BACKEND_USERNAME": &c.ExternalAPI.Backend.Username,
		"BACKEND_PASSWORD": &c.ExternalAPI.Backend.Password,
		"LOG_LEVEL":        &c.Logging.Level,
	}
	for key, dst := range overrides {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("SERVER_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.MaxUploadSize == 0 {
		c.Server.MaxUploadSize = 10 << 20
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Port == 0 {
		if c.Database.Driver == "postgres" {
			c.Database.Port = 5432
		} else {
			c.Database.Port = 3306
		}
	}
	if c.Database.Charset == "" {
		c.Database.Charset = "utf8mb4"
	}
	if c.Database.Loc == "" {
		c.Database.Loc = "Local"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.IngestionQueue == "" {
		c.Redis.IngestionQueue = "import:ingestion"
	}
	if c.Redis.SubmitQueue == "" {
		c.Redis.SubmitQueue = "import:submit"
	}
	if c.Redis.DLQSuffix == "" {
		c.Redis.DLQSuffix = ":dlq"
	}

	b := &c.ExternalAPI.Backend
	if b.AuthEndpoint == "" {
		b.AuthEndpoint = "/api/auth/login"
	}
	if b.TokenExpires == 0 {
		b.TokenExpires = time.Hour
	}
	if b.Timeout == 0 {
		b.Timeout = 30 * time.Second
	}
	if b.BatchSize == 0 {
		b.BatchSize = 50
	}
	if b.RetryAttempts == 0 {
		b.RetryAttempts = 3
	}
	if b.RetryDelay == 0 {
		b.RetryDelay = 2 * time.Second
	}
	if b.RateLimit == 0 {
		b.RateLimit = 10
	}
	if b.Burst == 0 {
		b.Burst = 5
	}

	if c.Workers.Ingestion.Count == 0 {
		c.Workers.Ingestion.Count = 2
	}
	if c.Workers.Submit.Count == 0 {
		c.Workers.Submit.Count = 2
	}
	if c.Workers.Submit.BatchSize == 0 {
		c.Workers.Submit.BatchSize = b.BatchSize
	}

	if c.Import.Timezone == "" {
		c.Import.Timezone = DefaultTimezone
	}
	if c.Import.MaxRows == 0 {
		c.Import.MaxRows = 5000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Import.Timezone); err != nil {
		return fmt.Errorf("invalid config: import.timezone %q: %w", c.Import.Timezone, err)
	}
	return nil
}

// Location is the zone that defines "today" for date rules.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Import.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Now returns the current time in the import timezone.
func (c *Config) Now() time.Time {
	return time.Now().In(c.Location())
}

func (c *Config) DatabaseDSN() string {
	d := c.Database
	if d.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	}
	// MySQL DSN format: [username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.Charset, d.ParseTime, d.Loc)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
