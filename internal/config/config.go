// Package config loads the world config file and process settings.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings holds process configuration read from the environment.
type Settings struct {
	ConfigPath string // World config file
	DBDriver   string // sqlite or postgres
	DBDSN      string // File path for sqlite, connection URL for postgres

	DumpDriver string // fs or s3
	DumpDir    string // Root directory for the fs dump driver
	DumpKey    string // Object key of the snapshot document

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool

	Seed          *int64 // Nil = draw a fresh seed per run
	RandomOrgKey  string // Enables random.org seeds
	Addr          string // HTTP listen address for serve
	CORSOrigins   []string
	LogLevel      slog.Level
	MetricsPrefix string
	PushGateway   string // Pushgateway URL for generate metrics. Empty = no push.
}

// FromEnv reads Settings from MAPGEN_* environment variables.
func FromEnv() Settings {
	s := Settings{
		ConfigPath:    envOrDefault("MAPGEN_CONFIG", "MapGen.config"),
		DBDriver:      envOrDefault("MAPGEN_DB_DRIVER", "sqlite"),
		DBDSN:         envOrDefault("MAPGEN_DB", "worldmap.db"),
		DumpDriver:    envOrDefault("MAPGEN_DUMP_DRIVER", "fs"),
		DumpDir:       envOrDefault("MAPGEN_DUMP_DIR", "."),
		DumpKey:       envOrDefault("MAPGEN_DUMP_KEY", "worldmap.json"),
		S3Bucket:      os.Getenv("MAPGEN_S3_BUCKET"),
		S3Region:      envOrDefault("MAPGEN_S3_REGION", "us-east-1"),
		S3Endpoint:    os.Getenv("MAPGEN_S3_ENDPOINT"),
		S3PathStyle:   strings.EqualFold(os.Getenv("MAPGEN_S3_PATH_STYLE"), "true"),
		Seed:          envInt64("MAPGEN_SEED"),
		RandomOrgKey:  os.Getenv("MAPGEN_RANDOM_ORG_KEY"),
		Addr:          envOrDefault("MAPGEN_ADDR", ":8080"),
		LogLevel:      slog.LevelInfo,
		MetricsPrefix: envOrDefault("MAPGEN_METRICS_PREFIX", "mapgen"),
		PushGateway:   os.Getenv("MAPGEN_PUSHGATEWAY"),
	}
	if v := os.Getenv("MAPGEN_CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				s.CORSOrigins = append(s.CORSOrigins, origin)
			}
		}
	}
	if v := os.Getenv("MAPGEN_LOG_LEVEL"); v != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			s.LogLevel = lvl
		}
	}
	return s
}

// LoadRaw reads a world config file into a key-value mapping. Files ending
// in .yaml or .yml are parsed as YAML; anything else (including the
// traditional MapGen.config) as JSON.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseRaw(data, filepath.Ext(path))
}

// ParseRaw decodes config bytes according to the file extension.
func ParseRaw(data []byte, ext string) (map[string]any, error) {
	raw := make(map[string]any)
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse config JSON: %w", err)
		}
	}
	return raw, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envInt64 returns nil when key is unset or not an integer.
func envInt64(key string) *int64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("ignoring non-integer setting", "key", key, "value", v)
		return nil
	}
	return &n
}
