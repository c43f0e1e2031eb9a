/*
config.go - Environment-driven configuration

PURPOSE:
  Loads runtime configuration from the environment, with an optional .env
  file for local development. Command-line flags in cmd/server override
  these values.
*/
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server ServerConfig
	DB     DBConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

type DBConfig struct {
	Path string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first if present; missing files are not an
// error.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		DB: DBConfig{
			Path: getEnv("DB_PATH", "inventory.db"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.Split(value, ",")
	}
	return fallback
}
