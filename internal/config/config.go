package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Redis     RedisConfig     `yaml:"redis"`
	Vault     VaultConfig     `yaml:"vault"`
	Audit     AuditConfig     `yaml:"audit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port" validate:"required,numeric"`
	Mode string `yaml:"mode" validate:"oneof=debug release test"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver" validate:"oneof=sqlite mysql postgres"`
	DSN          string `yaml:"dsn" validate:"required"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `yaml:"max_idle_conns" validate:"gte=0"`
}

// JWTConfig holds the fallback signing secret. The auth settings domain may
// override it with a vault reference in auth.jwt_secret.
type JWTConfig struct {
	Secret string `yaml:"secret" validate:"required"`
}

// RedisConfig for the optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// VaultConfig addresses the external secret store used to resolve
// vault://, openbao:// and bao:// setting values.
type VaultConfig struct {
	Address   string        `yaml:"address"`
	Token     string        `yaml:"token"`
	Namespace string        `yaml:"namespace"`
	KVVersion string        `yaml:"kv_version" validate:"oneof=1 2"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
}

type AuditConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gt=0"`
}

type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	File  string `yaml:"file"`
}

type AdminConfig struct {
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required,min=8"`
}

var validate = validator.New()

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.overrideFromEnv()

	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "backoffice.db",
		},
		JWT: JWTConfig{
			Secret: "backoffice-secret-key-change-in-production",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Vault: VaultConfig{
			KVVersion: "2",
			Timeout:   5 * time.Second,
		},
		Audit: AuditConfig{
			CacheTTL: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level: "info",
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "admin12345",
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		c.Vault.Address = addr
	}
	if token := os.Getenv("VAULT_TOKEN"); token != "" {
		c.Vault.Token = token
	}
	if ns := os.Getenv("VAULT_NAMESPACE"); ns != "" {
		c.Vault.Namespace = ns
	}
	if v := os.Getenv("VAULT_KV_VERSION"); v != "" {
		c.Vault.KVVersion = v
	}
	if v := os.Getenv("VAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Vault.Timeout = d
		}
	}
	if v := os.Getenv("AUDIT_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Audit.CacheTTL = d
		}
	}
	if v := os.Getenv("SCHEDULER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Scheduler.Enabled = b
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		c.Log.File = file
	}
	if user := os.Getenv("ADMIN_USERNAME"); user != "" {
		c.Admin.Username = user
	}
	if pass := os.Getenv("ADMIN_PASSWORD"); pass != "" {
		c.Admin.Password = pass
	}
}

// ParseRedisURL parses a Redis URL into a RedisConfig.
// Format: redis://:password@host:port/db
func ParseRedisURL(redisURL string) RedisConfig {
	rc := RedisConfig{Enabled: true}

	// Remove redis:// prefix
	url := strings.TrimPrefix(redisURL, "redis://")

	// Extract password if present
	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			rc.Password = authPart[colonIdx+1:]
		}
	}

	// Extract db number if present
	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			rc.DB = db
		}
	}

	// Remaining is host:port
	rc.Addr = url
	return rc
}

func (c *Config) parseRedisURL(redisURL string) {
	c.Redis = ParseRedisURL(redisURL)
}
