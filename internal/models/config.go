package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	ServerAddr       string `yaml:"server_addr"`
	SecretKey        string `yaml:"secret_key"`
	BaseURL          string `yaml:"base_url"`
	DataDir          string `yaml:"data_dir"`
	LibraryDir       string `yaml:"library_dir"`
	DBPath           string `yaml:"db_path"`
	DisableAuth      bool   `yaml:"disable_auth"`
	TokenExpiryDays  int    `yaml:"token_expiry_days"`
	ImportRateMs     int    `yaml:"import_rate_limit_ms"`
	MaxUploadSizeMB  int    `yaml:"max_upload_size_mb"`
	ThumbnailQuality int    `yaml:"thumbnail_quality"`
	SteamAPIKey      string `yaml:"steam_api_key"`
	SteamGridDBKey   string `yaml:"steamgriddb_api_key"`
	IGDBClientID     string `yaml:"igdb_client_id"`
	IGDBClientSecret string `yaml:"igdb_client_secret"`
}

// LoadConfig reads an optional YAML file, then applies GAMEVAULT_* environment
// variables on top. Environment always wins over the file.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	// Not an error if absent; env vars alone are a valid configuration.
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%s: %v", op, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %v", op, err)
		}
	}

	applyEnv(cfg)

	if cfg.LibraryDir == "" {
		cfg.LibraryDir = filepath.Join(cfg.DataDir, "library")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "gamevault.db")
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ServerAddr:       ":8080",
		SecretKey:        "change-me-to-a-random-string",
		BaseURL:          "http://localhost:8080",
		DataDir:          "/data",
		TokenExpiryDays:  30,
		ImportRateMs:     1000,
		MaxUploadSizeMB:  50,
		ThumbnailQuality: 85,
	}
}

func applyEnv(cfg *Config) {
	envStr("GAMEVAULT_SERVER_ADDR", &cfg.ServerAddr)
	envStr("GAMEVAULT_SECRET_KEY", &cfg.SecretKey)
	envStr("GAMEVAULT_BASE_URL", &cfg.BaseURL)
	envStr("GAMEVAULT_DATA_DIR", &cfg.DataDir)
	envStr("GAMEVAULT_LIBRARY_DIR", &cfg.LibraryDir)
	envStr("GAMEVAULT_DB_PATH", &cfg.DBPath)
	envBool("GAMEVAULT_DISABLE_AUTH", &cfg.DisableAuth)
	envInt("GAMEVAULT_TOKEN_EXPIRY_DAYS", &cfg.TokenExpiryDays)
	envInt("GAMEVAULT_IMPORT_RATE_LIMIT_MS", &cfg.ImportRateMs)
	envInt("GAMEVAULT_MAX_UPLOAD_SIZE_MB", &cfg.MaxUploadSizeMB)
	envInt("GAMEVAULT_THUMBNAIL_QUALITY", &cfg.ThumbnailQuality)
	envStr("GAMEVAULT_STEAM_API_KEY", &cfg.SteamAPIKey)
	envStr("GAMEVAULT_STEAMGRIDDB_API_KEY", &cfg.SteamGridDBKey)
	envStr("GAMEVAULT_IGDB_CLIENT_ID", &cfg.IGDBClientID)
	envStr("GAMEVAULT_IGDB_CLIENT_SECRET", &cfg.IGDBClientSecret)
}

func envStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func (c *Config) MaxUploadSizeBytes() int64 {
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}
