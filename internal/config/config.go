package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultProgram is the bonding-curve launch program whose logs are indexed.
const DefaultProgram = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL  string
	WSURL   string
	Program string

	PGDSN      string
	SQLitePath string

	FlushInterval time.Duration
	PoolSize      int
	DedupeSize    int

	MetadataRetries int
	MetadataTimeout time.Duration

	BatchSize  int
	ChunkSize  int
	ChunkDelay time.Duration

	Watch bool
	Every time.Duration

	Direction string
	LogLevel  string
}

// Load merges .env, config file, environment variables, and flags.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CURVESCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("program", DefaultProgram)
	v.SetDefault("sqlite-path", "./data/tokens.db")
	v.SetDefault("flush-interval", 5*time.Minute)
	v.SetDefault("pool-size", 64)
	v.SetDefault("dedupe-size", 4096)
	v.SetDefault("metadata-retries", 5)
	v.SetDefault("metadata-timeout", 10*time.Second)
	v.SetDefault("batch-size", 100)
	v.SetDefault("chunk-size", 1000)
	v.SetDefault("chunk-delay", 200*time.Millisecond)
	v.SetDefault("every", time.Hour)
	v.SetDefault("direction", "primary-to-secondary")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:          v.GetString("rpc"),
		WSURL:           v.GetString("ws"),
		Program:         v.GetString("program"),
		PGDSN:           v.GetString("pg-dsn"),
		SQLitePath:      v.GetString("sqlite-path"),
		FlushInterval:   v.GetDuration("flush-interval"),
		PoolSize:        v.GetInt("pool-size"),
		DedupeSize:      v.GetInt("dedupe-size"),
		MetadataRetries: v.GetInt("metadata-retries"),
		MetadataTimeout: v.GetDuration("metadata-timeout"),
		BatchSize:       v.GetInt("batch-size"),
		ChunkSize:       v.GetInt("chunk-size"),
		ChunkDelay:      v.GetDuration("chunk-delay"),
		Watch:           v.GetBool("watch"),
		Every:           v.GetDuration("every"),
		Direction:       v.GetString("direction"),
		LogLevel:        v.GetString("log-level"),
	}

	return cfg, nil
}
