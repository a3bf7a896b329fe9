package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/qhomebase/iam/pkg/authz"
	"github.com/qhomebase/iam/pkg/httpx"
	"github.com/qhomebase/iam/pkg/jwtx"
)

// Key storage modes.
const (
	KeyStorageEphemeral  = "ephemeral"
	KeyStoragePersistent = "persistent"
)

// Revocation backends.
const (
	RevocationMemory   = "memory"
	RevocationRedis    = "redis"
	RevocationDatabase = "database"
)

type Config struct {
	Issuer   string   // Issuer claim for tokens (default: qhome-iam)
	Audience []string // Default audience, comma separated (default: qhome)

	Algorithm            string        // Signing algorithm: RS256, ES256, EdDSA, HS256 (default: EdDSA)
	HMACSecret           string        // Shared secret for HS256, at least 32 bytes
	RSABits              int           // RSA key size for RS256 (default: 4096)
	KeyStorageMode       string        // ephemeral or persistent (default: ephemeral)
	KeyRetention         time.Duration // How long retired keys verify (default: RefreshTTL)
	MasterKeyPath        string        // Master key file sealing persisted keys
	AdditionalPublicKeys string        // Verification-only keys: "kid:base64pem;;kid2:base64pem"
	DatabaseFile         string        // SQLite database file (default: iam.db)

	AccessTTL      time.Duration // default: 15m
	RefreshTTL     time.Duration // default: 7d
	ServiceTTL     time.Duration // default: 1h
	ClockSkew      time.Duration // Verification leeway (default: 30s)
	PermissionMode string        // recompute or embedded (default: recompute)

	RevocationBackend string // memory, redis or database (default: database)
	RedisAddr         string
	RedisPassword     string
	RedisDB           int

	Env                  string        // dev, staging, prod (default: dev)
	LogLevel             string        // debug, info, warn, error (default: info)
	LogFormat            string        // json or text (default: json)
	Port                 int           // HTTP port (default: 8080)
	ShutdownGracePeriod  time.Duration // default: 10s
	HousekeepingInterval time.Duration // default: 1h

	RateLimits httpx.Limits
}

// LoadConfig reads the configuration from the environment. A .env file (or
// the file named by IAM_ENV_FILE) is loaded first when present; variables
// already set win.
func LoadConfig() (Config, error) {
	envFile := getEnvOrDefault("IAM_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		Issuer:   getEnvOrDefault("IAM_ISSUER", "qhome-iam"),
		Audience: splitList(getEnvOrDefault("IAM_AUDIENCE", "qhome")),

		Algorithm:            getEnvOrDefault("IAM_ALGORITHM", jwtx.AlgorithmEdDSA),
		HMACSecret:           os.Getenv("IAM_HMAC_SECRET"),
		RSABits:              getEnvIntOrDefault("IAM_RSA_BITS", 0),
		KeyStorageMode:       getEnvOrDefault("IAM_KEY_STORAGE_MODE", KeyStorageEphemeral),
		KeyRetention:         getEnvDurationOrDefault("IAM_KEY_RETENTION", 0),
		MasterKeyPath:        os.Getenv("IAM_MASTER_KEY_PATH"),
		AdditionalPublicKeys: os.Getenv("IAM_ADDITIONAL_PUBLIC_KEYS"),
		DatabaseFile:         getEnvOrDefault("IAM_DATABASE_FILE", "iam.db"),

		AccessTTL:      getEnvDurationOrDefault("IAM_ACCESS_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTTL:     getEnvDurationOrDefault("IAM_REFRESH_TTL", jwtx.DefaultRefreshTokenTTL),
		ServiceTTL:     getEnvDurationOrDefault("IAM_SERVICE_TTL", jwtx.DefaultServiceTokenTTL),
		ClockSkew:      getEnvDurationOrDefault("IAM_CLOCK_SKEW", jwtx.DefaultLeeway),
		PermissionMode: getEnvOrDefault("IAM_PERMISSION_MODE", authz.ModeRecompute.String()),

		RevocationBackend: getEnvOrDefault("IAM_REVOCATION_BACKEND", RevocationDatabase),
		RedisAddr:         getEnvOrDefault("IAM_REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("IAM_REDIS_PASSWORD"),
		RedisDB:           getEnvIntOrDefault("IAM_REDIS_DB", 0),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),

		RateLimits: httpx.LimitsFromEnv(os.Getenv),
	}

	// Retired keys must outlive every token they signed.
	cfg.KeyRetention = max(cfg.KeyRetention, cfg.AccessTTL, cfg.RefreshTTL, cfg.ServiceTTL)

	return cfg, cfg.Validate()
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch c.Algorithm {
	case jwtx.AlgorithmRS256, jwtx.AlgorithmES256, jwtx.AlgorithmEdDSA:
	case jwtx.AlgorithmHS256:
		if len(c.HMACSecret) < jwtx.MinHMACSecretSize {
			errs = append(errs, fmt.Errorf("IAM_HMAC_SECRET must be at least %d bytes for HS256", jwtx.MinHMACSecretSize))
		}
	default:
		errs = append(errs, fmt.Errorf("IAM_ALGORITHM %q is not one of RS256, ES256, EdDSA, HS256", c.Algorithm))
	}

	switch c.KeyStorageMode {
	case KeyStorageEphemeral, KeyStoragePersistent:
	default:
		errs = append(errs, fmt.Errorf("IAM_KEY_STORAGE_MODE %q is not ephemeral or persistent", c.KeyStorageMode))
	}
	if c.Algorithm == jwtx.AlgorithmHS256 && c.KeyStorageMode == KeyStoragePersistent {
		errs = append(errs, errors.New("HS256 keys come from IAM_HMAC_SECRET and cannot use persistent storage"))
	}

	switch c.RevocationBackend {
	case RevocationMemory, RevocationRedis, RevocationDatabase:
	default:
		errs = append(errs, fmt.Errorf("IAM_REVOCATION_BACKEND %q is not memory, redis or database", c.RevocationBackend))
	}

	if _, err := authz.ParseMode(c.PermissionMode); err != nil {
		errs = append(errs, fmt.Errorf("IAM_PERMISSION_MODE: %w", err))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.ServiceTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.Issuer == "" {
		errs = append(errs, errors.New("IAM_ISSUER must not be empty"))
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Plain integers are minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
