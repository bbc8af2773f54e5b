package config

import (
	"io"

	"github.com/spf13/pflag"
)

// flagNames maps config keys to their command-line flags.
var flagNames = map[string]string{
	"database_path":         "database-path",
	"server_addr":           "server-addr",
	"access_token":          "access-token",
	"orgs":                  "orgs",
	"sync_interval":         "sync-interval",
	"request_timeout":       "request-timeout",
	"thumbnail_dir":         "thumbnail-dir",
	"upload_concurrency":    "upload-concurrency",
	"reconcile_concurrency": "reconcile-concurrency",
	"cache_size":            "cache-size",
	"log_level":             "log-level",
	"log_format":            "log-format",
	"log_file":              "log-file",
	"metrics_addr":          "metrics-addr",
}

func newFlagSet(def Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("medsyncd", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringP("config", "c", "", "path to a JSON config file")
	fs.String("env-file", ".env", "dotenv file with MEDSYNC_* variables")

	fs.StringP("database-path", "d", def.DatabasePath, "SQLite database file")
	fs.StringP("server-addr", "a", def.ServerAddr, "gRPC server address")
	fs.String("access-token", def.AccessToken, "access token sent with every call")
	fs.StringSlice("orgs", def.Orgs, "organization scopes to sync")
	fs.Duration("sync-interval", def.SyncInterval, "time between sync rounds")
	fs.Duration("request-timeout", def.RequestTimeout, "per-call timeout")
	fs.String("thumbnail-dir", def.ThumbnailDir, "thumbnail cache directory")
	fs.Int("upload-concurrency", def.UploadConcurrency, "parallel form submissions")
	fs.Int("reconcile-concurrency", def.ReconcileConcurrency, "parallel remote calls per reconcile pass")
	fs.Int("cache-size", def.CacheSize, "entities kept in the read cache")
	fs.String("log-level", def.LogLevel, "debug, info, warn or error")
	fs.String("log-format", def.LogFormat, "text or json")
	fs.String("log-file", def.LogFile, "rotated log file; empty logs to stderr")
	fs.String("metrics-addr", def.MetricsAddr, "listen address for /metrics; empty disables it")
	return fs
}
