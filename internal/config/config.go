package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// BackendMode はアカウント操作を委譲するバックエンドの種類を表す。
type BackendMode string

const (
	// BackendModeRemote はホスティング型バックエンドのREST APIを使用する。
	BackendModeRemote BackendMode = "remote"
	// BackendModePostgres は同一PostgreSQL上のローカル実装を使用する（セルフホスト・開発用）。
	BackendModePostgres BackendMode = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Backend
	BackendMode             BackendMode
	BackendEndpoint         string
	BackendProjectID        string
	BackendAPIKey           string
	BackendDatabaseID       string
	BackendUserCollectionID string
	BackendTimeout          time.Duration

	// Session
	SessionMaxAge int

	// Rate Limit
	RateLimitSignup int // req/min/client

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// BACKEND_MODE=remote の場合のみバックエンド接続情報を必須とする。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	mode := BackendMode(strings.ToLower(getEnvString("BACKEND_MODE", string(BackendModeRemote))))
	switch mode {
	case BackendModeRemote, BackendModePostgres:
		cfg.BackendMode = mode
	default:
		return nil, fmt.Errorf("unsupported BACKEND_MODE: %q (want remote or postgres)", mode)
	}

	if cfg.BackendMode == BackendModeRemote {
		cfg.BackendEndpoint = strings.TrimRight(os.Getenv("BACKEND_ENDPOINT"), "/")
		if cfg.BackendEndpoint == "" {
			missing = append(missing, "BACKEND_ENDPOINT")
		}

		cfg.BackendProjectID = os.Getenv("BACKEND_PROJECT_ID")
		if cfg.BackendProjectID == "" {
			missing = append(missing, "BACKEND_PROJECT_ID")
		}

		cfg.BackendDatabaseID = os.Getenv("BACKEND_DATABASE_ID")
		if cfg.BackendDatabaseID == "" {
			missing = append(missing, "BACKEND_DATABASE_ID")
		}

		cfg.BackendUserCollectionID = os.Getenv("BACKEND_USER_COLLECTION_ID")
		if cfg.BackendUserCollectionID == "" {
			missing = append(missing, "BACKEND_USER_COLLECTION_ID")
		}
	} else {
		// ローカル実装ではアバターURLの組み立てにBASE_URLを使用する
		cfg.BackendEndpoint = strings.TrimRight(getEnvString("BACKEND_ENDPOINT", cfg.BaseURL), "/")
		cfg.BackendProjectID = getEnvString("BACKEND_PROJECT_ID", "local")
		cfg.BackendDatabaseID = getEnvString("BACKEND_DATABASE_ID", "main")
		cfg.BackendUserCollectionID = getEnvString("BACKEND_USER_COLLECTION_ID", "users")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.BackendAPIKey = os.Getenv("BACKEND_API_KEY")
	cfg.BackendTimeout = getEnvDuration("BACKEND_TIMEOUT", 10*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.RateLimitSignup = getEnvInt("RATE_LIMIT_SIGNUP", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
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

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
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
