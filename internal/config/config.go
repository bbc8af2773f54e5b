// Package config loads medsyncd settings. Sources are applied in order,
// later ones winning: defaults, an optional JSON file (-c/--config),
// MEDSYNC_* environment variables (optionally read from a .env file) and
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/flagx"
	"github.com/dmitrijs2005/medsync/internal/logging"
)

const envPrefix = "MEDSYNC"

// Config holds runtime settings for medsyncd.
type Config struct {
	DatabasePath string
	ServerAddr   string
	AccessToken  string
	Orgs         []string

	SyncInterval   time.Duration
	RequestTimeout time.Duration

	ThumbnailDir         string
	UploadConcurrency    int
	ReconcileConcurrency int
	CacheSize            int

	LogLevel  string
	LogFormat string
	LogFile   string

	MetricsAddr string
}

// Defaults returns the settings used when no source overrides them.
func Defaults() Config {
	return Config{
		DatabasePath:         "medsync.db",
		ServerAddr:           "127.0.0.1:50051",
		Orgs:                 []string{},
		SyncInterval:         30 * time.Second,
		RequestTimeout:       15 * time.Second,
		ThumbnailDir:         "thumbnails",
		UploadConcurrency:    4,
		ReconcileConcurrency: 4,
		CacheSize:            512,
		LogLevel:             "info",
		LogFormat:            "text",
		MetricsAddr:          ":9464",
	}
}

// Load builds a Config from args (without the program name) and the
// process environment.
func Load(args []string) (*Config, error) {
	def := Defaults()
	fset := newFlagSet(def)
	if err := fset.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	envFile, _ := fset.GetString("env-file")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v, def)

	if path := flagx.ConfigPath(args); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	for key, name := range flagNames {
		if err := v.BindPFlag(key, fset.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	cfg := &Config{
		DatabasePath:         v.GetString("database_path"),
		ServerAddr:           v.GetString("server_addr"),
		AccessToken:          v.GetString("access_token"),
		Orgs:                 splitList(v.GetStringSlice("orgs")),
		SyncInterval:         v.GetDuration("sync_interval"),
		RequestTimeout:       v.GetDuration("request_timeout"),
		ThumbnailDir:         v.GetString("thumbnail_dir"),
		UploadConcurrency:    v.GetInt("upload_concurrency"),
		ReconcileConcurrency: v.GetInt("reconcile_concurrency"),
		CacheSize:            v.GetInt("cache_size"),
		LogLevel:             v.GetString("log_level"),
		LogFormat:            v.GetString("log_format"),
		LogFile:              v.GetString("log_file"),
		MetricsAddr:          v.GetString("metrics_addr"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("database_path", c.DatabasePath)
	v.SetDefault("server_addr", c.ServerAddr)
	v.SetDefault("access_token", c.AccessToken)
	v.SetDefault("orgs", c.Orgs)
	v.SetDefault("sync_interval", c.SyncInterval)
	v.SetDefault("request_timeout", c.RequestTimeout)
	v.SetDefault("thumbnail_dir", c.ThumbnailDir)
	v.SetDefault("upload_concurrency", c.UploadConcurrency)
	v.SetDefault("reconcile_concurrency", c.ReconcileConcurrency)
	v.SetDefault("cache_size", c.CacheSize)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_format", c.LogFormat)
	v.SetDefault("log_file", c.LogFile)
	v.SetDefault("metrics_addr", c.MetricsAddr)
}

// splitList accepts both list values and comma-separated strings, as
// environment variables carry lists.
func splitList(in []string) []string {
	out := []string{}
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate rejects settings medsyncd cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.DatabasePath == "" {
		problems = append(problems, "database_path is empty")
	}
	if c.ServerAddr == "" {
		problems = append(problems, "server_addr is empty")
	}
	if c.SyncInterval <= 0 {
		problems = append(problems, "sync_interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, "request_timeout must be positive")
	}
	if c.UploadConcurrency < 1 || c.ReconcileConcurrency < 1 {
		problems = append(problems, "concurrency must be at least 1")
	}
	if c.CacheSize < 1 {
		problems = append(problems, "cache_size must be at least 1")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("unknown log_format %q", c.LogFormat))
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %w: %s", common.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) Logging() logging.Options {
	return logging.Options{Level: c.LogLevel, Format: c.LogFormat, File: c.LogFile}
}
