package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RPMREPO_EXPORT_"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ExportRoot:      "/srv/exports",
		CacheDir:        "~/.cache/pulp_exporter",
		ExportMethod:    MethodHardlink,
		ErrorReport:     "~/export.err",
		KnownSubkeys:    "~/config/known_subkeys.json",
		DefaultPlatform: "AlmaLinux-8",
		HTTPTimeout:     5 * time.Minute,
		TaskTimeout:     2 * time.Hour,
		Log: LogConfig{
			Level: "info",
			Dir:   "~/exporter_logs",
		},
		Workers: WorkerConfig{
			PostProcessing: 4,
			SignatureCheck: 10,
			Errata:         4,
		},
		Catalog: CatalogConfig{Driver: "sqlite3"},
		Publish: PublishConfig{Backend: "fs"},
		Errata: ErrataConfig{
			SiteURL:    "https://errata.almalinux.org",
			FeedAuthor: "AlmaLinux Team",
			FeedEmail:  "packager@almalinux.org",
			FeedLimit:  500,
		},
	}
}

// Load reads path (optional: a missing file yields defaults), applies the
// .env file in the working directory if present, then environment
// overrides, and expands "~" in every path setting.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if cfg.OSVDir == "" {
		cfg.OSVDir = cfg.ExportRoot
	}
	if cfg.Publish.Root == "" {
		cfg.Publish.Root = cfg.ExportRoot
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	strVars := map[string]*string{
		"EXPORT_ROOT":          &cfg.ExportRoot,
		"CACHE_DIR":            &cfg.CacheDir,
		"EXPORT_METHOD":        &cfg.ExportMethod,
		"OSV_DIR":              &cfg.OSVDir,
		"ERROR_REPORT":         &cfg.ErrorReport,
		"KNOWN_SUBKEYS":        &cfg.KnownSubkeys,
		"DEFAULT_PLATFORM":     &cfg.DefaultPlatform,
		"METRICS_FILE":         &cfg.MetricsFile,
		"LOG_LEVEL":            &cfg.Log.Level,
		"LOG_DIR":              &cfg.Log.Dir,
		"PULP_URL":             &cfg.ArtifactStore.URL,
		"PULP_USER":            &cfg.ArtifactStore.Username,
		"PULP_PASSWORD":        &cfg.ArtifactStore.Password,
		"SIGN_SERVER_URL":      &cfg.Signing.URL,
		"SIGN_SERVER_USERNAME": &cfg.Signing.Username,
		"SIGN_SERVER_PASSWORD": &cfg.Signing.Password,
		"ALBS_API_URL":         &cfg.BuildSystem.URL,
		"ALBS_JWT_TOKEN":       &cfg.BuildSystem.Token,
		"CATALOG_DRIVER":       &cfg.Catalog.Driver,
		"CATALOG_DSN":          &cfg.Catalog.DSN,
		"PUBLISH_BACKEND":      &cfg.Publish.Backend,
		"PUBLISH_ROOT":         &cfg.Publish.Root,
		"PUBLISH_S3_ENDPOINT":  &cfg.Publish.S3Endpoint,
		"ERRATA_SITE_URL":      &cfg.Errata.SiteURL,
	}
	for key, dst := range strVars {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	intVars := map[string]*int{
		"WORKERS_POST_PROCESSING": &cfg.Workers.PostProcessing,
		"WORKERS_SIGNATURE_CHECK": &cfg.Workers.SignatureCheck,
		"WORKERS_ERRATA":          &cfg.Workers.Errata,
		"ERRATA_FEED_LIMIT":       &cfg.Errata.FeedLimit,
	}
	for key, dst := range intVars {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}
	durVars := map[string]*time.Duration{
		"HTTP_TIMEOUT": &cfg.HTTPTimeout,
		"TASK_TIMEOUT": &cfg.TaskTimeout,
	}
	for key, dst := range durVars {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}
	return nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.ExportRoot, &c.CacheDir, &c.OSVDir, &c.ErrorReport, &c.KnownSubkeys, &c.MetricsFile, &c.Log.Dir} {
		expanded, err := ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	if c.Publish.Backend == "fs" {
		expanded, err := ExpandHome(c.Publish.Root)
		if err != nil {
			return err
		}
		c.Publish.Root = expanded
	}
	return nil
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", p, err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
