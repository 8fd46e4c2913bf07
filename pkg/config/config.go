// Package config loads exporter settings from a YAML file, the environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Export methods understood by the artifact store's filesystem exporter.
const (
	MethodWrite    = "write"
	MethodHardlink = "hardlink"
	MethodSymlink  = "symlink"
)

// Config is the complete exporter configuration.
type Config struct {
	ExportRoot      string        `yaml:"export_root"`
	CacheDir        string        `yaml:"cache_dir"`
	ExportMethod    string        `yaml:"export_method"`
	OSVDir          string        `yaml:"osv_dir"`
	ErrorReport     string        `yaml:"error_report"`
	KnownSubkeys    string        `yaml:"known_subkeys"`
	DefaultPlatform string        `yaml:"default_platform"`
	MetricsFile     string        `yaml:"metrics_file"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`
	TaskTimeout     time.Duration `yaml:"task_timeout"`

	Log           LogConfig     `yaml:"log"`
	Workers       WorkerConfig  `yaml:"workers"`
	ArtifactStore ServiceConfig `yaml:"artifact_store"`
	Signing       ServiceConfig `yaml:"signing"`
	BuildSystem   ServiceConfig `yaml:"build_system"`
	Catalog       CatalogConfig `yaml:"catalog"`
	Publish       PublishConfig `yaml:"publish"`
	Errata        ErrataConfig  `yaml:"errata"`
}

// LogConfig configures the run log.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// WorkerConfig sizes the bounded worker pools.
type WorkerConfig struct {
	PostProcessing int `yaml:"post_processing"`
	SignatureCheck int `yaml:"signature_check"`
	Errata         int `yaml:"errata"`
}

// ServiceConfig describes a remote HTTP collaborator.
type ServiceConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

// CatalogConfig selects the SQL database holding platforms and repositories.
type CatalogConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// PublishConfig selects where the errata output tree is written.
type PublishConfig struct {
	Backend    string `yaml:"backend"`
	Root       string `yaml:"root"`
	S3Endpoint string `yaml:"s3_endpoint"`
}

// ErrataConfig tunes the generated errata feeds.
type ErrataConfig struct {
	SiteURL    string `yaml:"site_url"`
	FeedAuthor string `yaml:"feed_author"`
	FeedEmail  string `yaml:"feed_email"`
	FeedLimit  int    `yaml:"feed_limit"`
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ExportRoot == "" {
		errs = append(errs, errors.New("export_root is required"))
	}
	if c.CacheDir == "" {
		errs = append(errs, errors.New("cache_dir is required"))
	}
	switch c.ExportMethod {
	case MethodWrite, MethodHardlink, MethodSymlink:
	default:
		errs = append(errs, fmt.Errorf("invalid export_method %q (choices: write, hardlink, symlink)", c.ExportMethod))
	}
	if c.ArtifactStore.URL == "" {
		errs = append(errs, errors.New("artifact_store.url is required"))
	}
	switch c.Catalog.Driver {
	case "sqlite3", "pgx":
	default:
		errs = append(errs, fmt.Errorf("invalid catalog.driver %q (sqlite3 or pgx)", c.Catalog.Driver))
	}
	if c.Catalog.DSN == "" {
		errs = append(errs, errors.New("catalog.dsn is required"))
	}
	switch c.Publish.Backend {
	case "fs":
	case "s3":
		if !strings.HasPrefix(c.Publish.Root, "s3://") {
			errs = append(errs, fmt.Errorf("publish.root must be an s3:// uri for the s3 backend, got %q", c.Publish.Root))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid publish.backend %q (fs or s3)", c.Publish.Backend))
	}
	for name, n := range map[string]int{
		"workers.post_processing": c.Workers.PostProcessing,
		"workers.signature_check": c.Workers.SignatureCheck,
		"workers.errata":          c.Workers.Errata,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}
	return errors.Join(errs...)
}

// SigningEnabled reports whether a signing service is configured.
func (c *Config) SigningEnabled() bool {
	return c.Signing.URL != ""
}
