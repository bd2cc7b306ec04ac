// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"

	"key-provisioning-service/internal/domain"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	WorkspaceRoot      string
	RSAKeyBits         int
	DatabaseURL        string
	MigrationsDir      string
	KMSKeyName         string
	GoogleCloudProject string
	LogLevel           string

	OtelEnabled      bool
	OtelEndpoint     string
	OtelInsecure     bool
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		WorkspaceRoot:      getEnv("WORKSPACE_ROOT", "."),
		RSAKeyBits:         getEnvInt("RSA_KEY_BITS", domain.DefaultRSAKeyBits),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		MigrationsDir:      os.Getenv("MIGRATIONS_DIR"),
		KMSKeyName:         os.Getenv("KMS_KEY_NAME"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		OtelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelInsecure:       getEnvBool("OTEL_INSECURE", false),
		OtelServiceName:    getEnv("OTEL_SERVICE_NAME", "key-provisioning-service"),
		OtelSamplingRate:   getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
	}
}

// Provisioning は鍵プロビジョニング用の設定を組み立てる。
// ディレクトリ名・鍵ファイル名は既定値を使い、ルートと鍵長のみ環境変数で上書きできる。
func (c *Config) Provisioning() domain.ProvisioningConfig {
	pc := domain.DefaultProvisioningConfig(c.WorkspaceRoot)
	pc.RSABits = c.RSAKeyBits
	return pc
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
