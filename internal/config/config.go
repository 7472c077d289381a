package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        int
	DatabaseURL string
	LogLevel    string

	GeminiAPIKey string
	Model        string

	JWKSURL string

	NatsURL   string
	NatsToken string

	// Pipeline limits.
	MaxArchiveBytes int64         // archive ceiling, checked before extraction
	MaxFileBytes    int64         // per-file ceiling, entries above it are truncated
	MaxTokens       int           // per-call chunk ceiling
	RPMDelay        time.Duration // minimum spacing between upstream calls
	DailyTokenLimit int64         // per-user daily ledger ceiling

	// Extra ignore globs appended to the built-in selector rules.
	IgnorePatterns []string
}

func Load() Config {
	return Config{
		Port:            envInt("SCRIBE_PORT", 8760),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		GeminiAPIKey:    envStr("GEMINI_API_KEY", ""),
		Model:           envStr("SCRIBE_MODEL", "gemini-2.0-flash"),
		JWKSURL:         envStr("CLERK_JWKS_URL", ""),
		NatsURL:         envStr("NATS_URL", ""),
		NatsToken:       envStr("NATS_TOKEN", ""),
		MaxArchiveBytes: envInt64("MAX_FILE_SIZE", 100*1024*1024),
		MaxFileBytes:    envInt64("MAX_INDIVIDUAL_FILE_SIZE", 10*1024*1024),
		MaxTokens:       envInt("MAX_TOKENS", 200000),
		RPMDelay:        envSeconds("RPM_DELAY", 6.5),
		DailyTokenLimit: envInt64("DAILY_TOKEN_LIMIT", 500000),
		IgnorePatterns:  envList("IGNORE_PATTERNS"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// envSeconds reads a float number of seconds, e.g. RPM_DELAY=6.5.
func envSeconds(key string, fallback float64) time.Duration {
	secs := fallback
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			secs = f
		}
	}
	return time.Duration(secs * float64(time.Second))
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
