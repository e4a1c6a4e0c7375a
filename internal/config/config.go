package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string `validate:"required"`
	PostgresDSN string
	LogLevel    string `validate:"oneof=debug info warn error"`

	RootAdminAddress string `validate:"omitempty,eth_addr"`
	MaxRevoked       int    `validate:"min=1"`
	AdminPolicyPath  string

	RateLimitRequests      int
	RateLimitWindowSeconds int `validate:"min=1"`
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int `validate:"min=1"`

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RegistryURL          string `validate:"required,url"`
	SyncStore            string `validate:"oneof=file redis"`
	SyncStatePath        string
	SyncReconcileMinutes int `validate:"min=1"`
	SyncWindowSize       int `validate:"min=1"`
	SyncHealthThreshold  int `validate:"min=1"`
	SyncDeviceID         int `validate:"min=0"`
}

// Load reads an optional .env file from the working directory and then the
// process environment. Values already set in the environment win.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		HTTPAddr:               envDefault("HTTP_ADDR", ":8080"),
		PostgresDSN:            os.Getenv("POSTGRES_DSN"),
		LogLevel:               strings.ToLower(envDefault("LOG_LEVEL", "info")),
		RootAdminAddress:       strings.TrimSpace(os.Getenv("ROOT_ADMIN_ADDRESS")),
		MaxRevoked:             envIntDefault("MAX_REVOKED", 1000),
		AdminPolicyPath:        os.Getenv("ADMIN_POLICY_PATH"),
		RateLimitRequests:      envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds: envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:    envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:       envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                envIntDefault("REDIS_DB", 0),
		RegistryURL:            envDefault("REGISTRY_URL", "http://localhost:8080"),
		SyncStore:              strings.ToLower(envDefault("SYNC_STORE", "file")),
		SyncStatePath:          envDefault("SYNC_STATE_PATH", "revsync-state.json"),
		SyncReconcileMinutes:   envIntDefault("SYNC_RECONCILE_MINUTES", 5),
		SyncWindowSize:         envIntDefault("SYNC_WINDOW_SIZE", 500),
		SyncHealthThreshold:    envIntDefault("SYNC_HEALTH_THRESHOLD", 100),
		SyncDeviceID:           envIntDefault("SYNC_DEVICE_ID", 0),
	}
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", e.Field(), e.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	if c.SyncStore == "redis" && c.RedisAddr == "" {
		return errors.New("invalid config: SYNC_STORE=redis requires REDIS_ADDR")
	}
	return nil
}

// RootAdmin returns the zero address when ROOT_ADMIN_ADDRESS is unset, which
// denies every administrative call.
func (c Config) RootAdmin() common.Address {
	if c.RootAdminAddress == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.RootAdminAddress)
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func (c Config) ReconcileInterval() time.Duration {
	return time.Duration(c.SyncReconcileMinutes) * time.Minute
}

func (c Config) DebugLogging() bool {
	return c.LogLevel == "debug"
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
