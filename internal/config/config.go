package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment with a
// .env file overlay for local development.
type Config struct {
	Port        string
	DatabaseURL string // empty selects the in-memory store
	ValkeyAddr  string // empty disables presence tracking
	JWTSecret   string
	CORSOrigin  string
}

// Load reads .env if present and resolves every setting.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("[Config] loaded .env")
	}

	return &Config{
		Port:        getenv("PORT", "4000"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ValkeyAddr:  os.Getenv("VALKEY_ADDR"),
		JWTSecret:   getenv("JWT_SECRET", "SuperSecretKey"),
		CORSOrigin:  getenv("CORS_ORIGIN", "http://localhost:3000"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
