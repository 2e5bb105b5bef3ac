package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	LLM      LLMConfig      `json:"llm"`
	Memory   MemoryConfig   `json:"memory"`
	Catalog  CatalogConfig  `json:"catalog"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type DatabaseConfig struct {
	Host                   string `json:"host"`
	Port                   int    `json:"port"`
	User                   string `json:"user"`
	Password               string `json:"password"`
	Database               string `json:"database"`
	SSLMode                string `json:"sslmode"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `json:"conn_max_lifetime_minutes"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type LLMConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`
}

// MemoryConfig holds the tiered-memory tuning knobs. Defaults: a soft
// hot-buffer bound of 50 turns, a durable compaction watermark of 50 turns,
// and a one hour TTL on the hot tier.
type MemoryConfig struct {
	MaxBufferMessages   int `json:"max_buffer_messages"`
	CompactionWatermark int `json:"compaction_watermark"`
	DefaultTTLSeconds   int `json:"default_ttl_seconds"`
}

type CatalogConfig struct {
	UseDBCatalog bool   `json:"use_db_catalog"`
	DemoShopID   string `json:"demo_shop_id"`
	DemoShopName string `json:"demo_shop_name"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	// Add config paths
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Check for user config directory
	homeDir, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(filepath.Join(homeDir, ".vieroc"))
	}

	setDefaults()

	// Read config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			cfg := defaultConfig()
			loadEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvOverrides(&cfg)

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "vieroc")
	viper.SetDefault("database.database", "vieroc")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime_minutes", 5)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("memory.max_buffer_messages", 50)
	viper.SetDefault("memory.compaction_watermark", 50)
	viper.SetDefault("memory.default_ttl_seconds", 3600)
	viper.SetDefault("catalog.use_db_catalog", true)
	viper.SetDefault("catalog.demo_shop_id", "11111111-1111-1111-1111-111111111111")
	viper.SetDefault("catalog.demo_shop_name", "Vieroc")
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:                   "localhost",
			Port:                   5432,
			User:                   "vieroc",
			Password:               "",
			Database:               "vieroc",
			SSLMode:                "disable",
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeMinutes: 5,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			DB:   0,
		},
		LLM: LLMConfig{
			Model: "gpt-4o-mini",
		},
		Memory: MemoryConfig{
			MaxBufferMessages:   50,
			CompactionWatermark: 50,
			DefaultTTLSeconds:   3600,
		},
		Catalog: CatalogConfig{
			UseDBCatalog: true,
			DemoShopID:   "11111111-1111-1111-1111-111111111111",
			DemoShopName: "Vieroc",
		},
	}
}

func loadEnvOverrides(cfg *Config) {
	if port := os.Getenv("VIEROC_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("VIEROC_HOST"); host != "" {
		cfg.Server.Host = host
	}

	// Database overrides
	if dbHost := os.Getenv("POSTGRES_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("POSTGRES_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = port
		}
	}
	if dbUser := os.Getenv("POSTGRES_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPass := os.Getenv("POSTGRES_PASSWORD"); dbPass != "" {
		cfg.Database.Password = dbPass
	}
	if dbName := os.Getenv("POSTGRES_DB"); dbName != "" {
		cfg.Database.Database = dbName
	}

	// Redis overrides
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		cfg.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if port, err := strconv.Atoi(redisPort); err == nil {
			cfg.Redis.Port = port
		}
	}
	if redisPass := os.Getenv("REDIS_PASSWORD"); redisPass != "" {
		cfg.Redis.Password = redisPass
	}

	// LLM overrides
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if model := os.Getenv("VIEROC_LLM_MODEL"); model != "" {
		cfg.LLM.Model = model
	}

	// Catalog overrides
	if useDB := os.Getenv("USE_DB_CATALOG"); useDB != "" {
		cfg.Catalog.UseDBCatalog = envBool(useDB)
	}
	if shopID := os.Getenv("DEMO_SHOP_ID"); shopID != "" {
		cfg.Catalog.DemoShopID = shopID
	}
	if shopName := os.Getenv("DEMO_SHOP_NAME"); shopName != "" {
		cfg.Catalog.DemoShopName = shopName
	}
}

func envBool(val string) bool {
	switch val {
	case "1", "true", "TRUE", "True", "yes", "y", "on":
		return true
	}
	return false
}
