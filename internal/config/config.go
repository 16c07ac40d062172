package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// DefaultMasterTenantID is the tenant seeded by the first migration. Superadmin membership in it
// grants visibility across all tenants.
const DefaultMasterTenantID = "00000000-0000-0000-0000-000000000001"

// Config holds all configuration for the trapfleet server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	MQTT       MQTTConfig
	Broker     BrokerConfig
	Claim      ClaimConfig
	Auth       AuthConfig
	Revocation RevocationConfig
	CORS       CORSConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP. Enable only
	// behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

type DatabaseConfig struct {
	URL              string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	// StatementTimeout bounds every query. Zero leaves the server default.
	StatementTimeout time.Duration
}

type RedisConfig struct {
	URL string
}

// MQTTConfig is the server's own connection to the broker, used to publish revoke and
// command messages and to follow device presence.
type MQTTConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// BrokerConfig locates the broker's password file and the process to signal for reloads.
type BrokerConfig struct {
	PasswordFile   string
	PIDFile        string
	ReloadDebounce time.Duration
	ResyncOnStart  bool
}

type ClaimConfig struct {
	HMACSecret         string
	HMACPreviousSecret string
	MasterTenantID     uuid.UUID
	// DeviceBrokerURL is handed to devices in their credential bundle.
	DeviceBrokerURL string
}

type AuthConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type RevocationConfig struct {
	Store string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	DeviceRequestsPerMinute int
}

var validRevocationStores = map[string]bool{
	"memory": true,
	"redis":  true,
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	masterTenant, err := uuid.Parse(envString("MASTER_TENANT_ID", DefaultMasterTenantID))
	if err != nil {
		return nil, fmt.Errorf("MASTER_TENANT_ID must be a UUID: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:              envInt("TRAPFLEET_PORT", 8080),
			Env:               envString("TRAPFLEET_ENV", "development"),
			TrustProxyHeaders: envBool("TRUST_PROXY_HEADERS", false),
		},
		Database: DatabaseConfig{
			URL:              os.Getenv("DATABASE_URL"),
			MaxOpenConns:     envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			StatementTimeout: envDuration("DATABASE_STATEMENT_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		MQTT: MQTTConfig{
			BrokerURL:      os.Getenv("MQTT_BROKER_URL"),
			ClientID:       envString("MQTT_CLIENT_ID", "trapfleet-server"),
			Username:       os.Getenv("MQTT_USERNAME"),
			Password:       os.Getenv("MQTT_PASSWORD"),
			ConnectTimeout: envDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second),
		},
		Broker: BrokerConfig{
			PasswordFile:   envString("BROKER_PASSWORD_FILE", "/mosquitto/config/passwd"),
			PIDFile:        os.Getenv("BROKER_PID_FILE"),
			ReloadDebounce: envDuration("BROKER_RELOAD_DEBOUNCE", time.Second),
			ResyncOnStart:  envBool("BROKER_RESYNC_ON_START", false),
		},
		Claim: ClaimConfig{
			HMACSecret:         os.Getenv("CLAIM_HMAC_SECRET"),
			HMACPreviousSecret: os.Getenv("CLAIM_HMAC_PREVIOUS_SECRET"),
			MasterTenantID:     masterTenant,
			DeviceBrokerURL:    os.Getenv("DEVICE_MQTT_BROKER_URL"),
		},
		Auth: AuthConfig{
			JWTSecret:       os.Getenv("JWT_SECRET"),
			AccessTokenTTL:  envDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL: envDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		},
		Revocation: RevocationConfig{
			Store: envString("REVOCATION_STORE", "memory"),
		},
		CORS: CORSConfig{
			AllowedOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		RateLimit: RateLimitConfig{
			DeviceRequestsPerMinute: envInt("DEVICE_RATE_LIMIT_PER_MINUTE", 30),
		},
	}

	if cfg.Claim.DeviceBrokerURL == "" {
		cfg.Claim.DeviceBrokerURL = cfg.MQTT.BrokerURL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.MQTT.BrokerURL == "" {
		return fmt.Errorf("MQTT_BROKER_URL is required")
	}
	if !hasAnyPrefix(c.MQTT.BrokerURL, "tcp://", "ssl://", "mqtt://", "mqtts://", "ws://", "wss://") {
		return fmt.Errorf("MQTT_BROKER_URL must use tcp://, ssl://, mqtt://, mqtts://, ws:// or wss://, got %q", c.MQTT.BrokerURL)
	}

	if c.Broker.PasswordFile == "" {
		return fmt.Errorf("BROKER_PASSWORD_FILE is required")
	}
	if c.Broker.ReloadDebounce <= 0 {
		return fmt.Errorf("BROKER_RELOAD_DEBOUNCE must be positive")
	}

	if len(c.Claim.HMACSecret) < 16 {
		return fmt.Errorf("CLAIM_HMAC_SECRET is required and must be at least 16 characters")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is required and must be at least 32 characters")
	}

	if !validRevocationStores[c.Revocation.Store] {
		return fmt.Errorf("REVOCATION_STORE must be one of memory, redis; got %q", c.Revocation.Store)
	}

	return nil
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
