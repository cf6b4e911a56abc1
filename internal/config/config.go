package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Backend the client talks to.
	BaseURL        string
	RequestTimeout time.Duration

	// Legacy local store (sqlite file). Empty means in-memory.
	LocalStorePath string

	// Stub backend settings.
	StubAddr      string
	StubDBDSN     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	JWTSecret     string

	// Plan ceilings enforced by the stub's usage windows.
	Limit5hEUR float64
	Limit7dEUR float64
	PlanSlug   string
	PlanName   string
}

func Load() Config {
	baseURL := os.Getenv("PRATIKO_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	timeout := 60 * time.Second
	if v := os.Getenv("PRATIKO_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}

	storePath := os.Getenv("LOCALSTORE_PATH")
	if storePath == "" {
		storePath = "pratiko-chat.db"
	}

	stubAddr := os.Getenv("STUB_ADDR")
	if stubAddr == "" {
		stubAddr = ":8080"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	limit5h := 2.0
	if v := os.Getenv("USAGE_LIMIT_5H_EUR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			limit5h = f
		}
	}
	limit7d := 10.0
	if v := os.Getenv("USAGE_LIMIT_7D_EUR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			limit7d = f
		}
	}

	planSlug := os.Getenv("PLAN_SLUG")
	if planSlug == "" {
		planSlug = "professionale"
	}
	planName := os.Getenv("PLAN_NAME")
	if planName == "" {
		planName = "Piano Professionale"
	}

	return Config{
		BaseURL:        baseURL,
		RequestTimeout: timeout,
		LocalStorePath: storePath,

		StubAddr:      stubAddr,
		StubDBDSN:     os.Getenv("STUB_DB_DSN"),
		RedisAddr:     redisAddr,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		JWTSecret:     secret,

		Limit5hEUR: limit5h,
		Limit7dEUR: limit7d,
		PlanSlug:   planSlug,
		PlanName:   planName,
	}
}
