// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストアドライバーの種類
const (
	StoreDriverMongo  = "mongo"
	StoreDriverRedis  = "redis"
	StoreDriverMemory = "memory"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// X-Forwarded-For を信頼するプロキシの IP/CIDR（カンマ区切り、空なら信頼しない）
	TrustedProxyAddrs string

	// ストア設定
	StoreDriver         string        // mongo, redis, memory
	DBURI               string        // MongoDB接続URI
	DBName              string        // MongoDBデータベース名
	RedisURL            string        // redisドライバー用の接続URL
	StoreConnectTimeout time.Duration // 接続試行1回あたりのタイムアウト
	StoreConnectRetries int           // 起動時の接続リトライ回数

	// 認証設定
	BcryptCost       int    // bcryptのコスト
	SessionSecret    string // セッションCookie署名用の秘密鍵
	LoginMaxAttempts int    // ロックまでのログイン失敗回数（IP単位）

	// ログ・メトリクス設定
	LogFormat      string // json または text
	MetricsEnabled bool   // /metrics を公開するか
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "4500"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		TrustedProxyAddrs:  getEnv("TRUSTED_PROXIES", ""),

		StoreDriver:         strings.ToLower(getEnv("STORE_DRIVER", StoreDriverMongo)),
		DBURI:               getEnv("DB_URI", "mongodb://127.0.0.1:27017"),
		DBName:              getEnv("DB_NAME", "campus_auth"),
		RedisURL:            getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		StoreConnectTimeout: time.Duration(getEnvAsInt("STORE_CONNECT_TIMEOUT_SECONDS", 10)) * time.Second,
		StoreConnectRetries: getEnvAsInt("STORE_CONNECT_RETRIES", 5),

		BcryptCost:       getEnvAsInt("BCRYPT_COST", 10),
		SessionSecret:    getEnv("SESSION_SECRET", ""),
		LoginMaxAttempts: getEnvAsInt("LOGIN_MAX_ATTEMPTS", 5),

		LogFormat:      getEnv("LOG_FORMAT", "json"),
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric: %q", c.Port)
	}

	switch c.StoreDriver {
	case StoreDriverMongo, StoreDriverRedis, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER: %q", c.StoreDriver)
	}

	for _, addr := range c.TrustedProxies() {
		if net.ParseIP(addr) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(addr); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES contains an invalid address: %q", addr)
		}
	}

	if c.StoreConnectRetries < 0 {
		return fmt.Errorf("STORE_CONNECT_RETRIES must not be negative")
	}

	// 本番モードのみ厳格にチェックする
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.StoreDriver == StoreDriverMemory {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in release mode")
		}
		if c.StoreDriver == StoreDriverMongo && (c.DBURI == "" || c.DBName == "") {
			return fmt.Errorf("DB_URI and DB_NAME are required in release mode")
		}
		if c.StoreDriver == StoreDriverRedis && c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required in release mode")
		}
	}

	return nil
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// TrustedProxies は信頼するプロキシの一覧を返します。未設定なら nil です。
func (c *Config) TrustedProxies() []string {
	return splitList(c.TrustedProxyAddrs)
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
