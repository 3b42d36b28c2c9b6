// Package config handles configuration loading and validation for pakfs.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/sunumi/pakfs/internal/metrics"
	"github.com/sunumi/pakfs/internal/pure"
	"github.com/sunumi/pakfs/internal/vfs"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PAKFS_BASE_PATH.
const EnvPrefix = "PAKFS_"

// ExportConfig holds configuration for the NFS export of the search path.
type ExportConfig struct {
	Enabled      bool     `yaml:"enabled" env:"ENABLED"`
	Listen       string   `yaml:"listen" env:"LISTEN"`               // default ":2049"
	Name         string   `yaml:"name" env:"NAME"`                   // mount path accepted besides "/"
	Writable     bool     `yaml:"writable" env:"WRITABLE"`           // read-only unless set
	AllowedNets  []string `yaml:"allowed_nets" env:"ALLOWED_NETS"`   // CIDRs; empty allows everyone
	CacheHandles int      `yaml:"cache_handles" env:"CACHE_HANDLES"` // NFS handle cache size (default: 1024)
}

// MetricsConfig holds configuration for the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Listen  string `yaml:"listen" env:"LISTEN"` // default ":9102"
	Path    string `yaml:"path" env:"PATH"`     // default "/metrics"
}

// Config holds configuration for one filesystem instance.
type Config struct {
	BasePath      string `yaml:"base_path" env:"BASE_PATH"`
	HomePath      string `yaml:"home_path" env:"HOME_PATH"`
	BaseGame      string `yaml:"base_game" env:"BASE_GAME"`
	ExtraBaseGame string `yaml:"extra_base_game" env:"EXTRA_BASE_GAME"`
	Game          string `yaml:"game" env:"GAME"`
	Debug         bool   `yaml:"debug" env:"DEBUG"`
	LogLevel      string `yaml:"log_level" env:"LOG_LEVEL"`

	MaxHandles int    `yaml:"max_handles" env:"MAX_HANDLES"`
	SeekBuffer string `yaml:"seek_buffer" env:"SEEK_BUFFER"` // size string, e.g. "64KB"

	ArchiveExt           string   `yaml:"archive_ext" env:"ARCHIVE_EXT"`
	ArchiveDirExt        string   `yaml:"archive_dir_ext" env:"ARCHIVE_DIR_EXT"`
	DefaultConfig        string   `yaml:"default_config" env:"DEFAULT_CONFIG"`
	RequireDefaultConfig bool     `yaml:"require_default_config" env:"REQUIRE_DEFAULT_CONFIG"`
	ProtectedExts        []string `yaml:"protected_exts" env:"PROTECTED_EXTS"`
	LocalOnlyConfigs     []string `yaml:"local_only_configs" env:"LOCAL_ONLY_CONFIGS"`

	Pure    pure.Policy   `yaml:"pure"`
	Export  ExportConfig  `yaml:"export" envPrefix:"EXPORT_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

// Load reads the YAML file at path, applies PAKFS_* environment overrides
// and fills in defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{Pure: pure.DefaultPolicy()}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasePath == "" {
		c.BasePath = "."
	}
	c.BasePath = expandHome(c.BasePath)
	c.HomePath = expandHome(c.HomePath)
	if c.HomePath == "" {
		c.HomePath = c.BasePath
	}
	if c.BaseGame == "" {
		c.BaseGame = "baseq3"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MaxHandles == 0 {
		c.MaxHandles = 64
	}
	if c.SeekBuffer == "" {
		c.SeekBuffer = "64KB"
	}
	if c.ArchiveExt == "" {
		c.ArchiveExt = ".pk3"
	}
	if c.ArchiveDirExt == "" {
		c.ArchiveDirExt = c.ArchiveExt + "dir"
	}
	if c.DefaultConfig == "" {
		c.DefaultConfig = "default.cfg"
	}

	if c.Export.Listen == "" {
		c.Export.Listen = ":2049"
	}
	if c.Export.Name == "" {
		c.Export.Name = "/" + c.BaseGame
	}
	if c.Export.CacheHandles == 0 {
		c.Export.CacheHandles = 1024
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9102"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// expandHome expands a leading "~/".
func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, p[2:])
		}
	}
	return p
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("base_path is required")
	}
	if c.BaseGame == "" || strings.ContainsAny(c.BaseGame, `/\`) || strings.Contains(c.BaseGame, "..") {
		return fmt.Errorf("base_game must be a single directory name")
	}
	for _, g := range []string{c.ExtraBaseGame, c.Game} {
		if strings.ContainsAny(g, `/\`) || strings.Contains(g, "..") {
			return fmt.Errorf("invalid game directory %q", g)
		}
	}
	if c.MaxHandles < 1 || c.MaxHandles > 4096 {
		return fmt.Errorf("max_handles must be between 1 and 4096")
	}
	size, err := ParseSize(c.SeekBuffer)
	if err != nil {
		return fmt.Errorf("invalid seek_buffer: %w", err)
	}
	if size < 1 {
		return fmt.Errorf("seek_buffer must be positive")
	}
	if !strings.HasPrefix(c.ArchiveExt, ".") {
		return fmt.Errorf("archive_ext must start with a dot")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.Export.Enabled {
		if c.Export.Listen == "" {
			return fmt.Errorf("export.listen is required")
		}
		if _, err := c.Export.Networks(); err != nil {
			return err
		}
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}

// Networks parses AllowedNets.
func (e ExportConfig) Networks() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(e.AllowedNets))
	for _, s := range e.AllowedNets {
		_, n, err := net.ParseCIDR(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid export.allowed_nets entry %q: %w", s, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// VFSOptions converts the configuration into filesystem options. Validate
// must have succeeded.
func (c *Config) VFSOptions(logger zerolog.Logger, m *metrics.FSMetrics) vfs.Options {
	seek, _ := ParseSize(c.SeekBuffer)
	return vfs.Options{
		BasePath:             c.BasePath,
		HomePath:             c.HomePath,
		BaseGame:             c.BaseGame,
		ExtraBaseGame:        c.ExtraBaseGame,
		Game:                 c.Game,
		MaxHandles:           c.MaxHandles,
		SeekBuffer:           int(seek),
		ArchiveExt:           c.ArchiveExt,
		ArchiveDirExt:        c.ArchiveDirExt,
		DefaultConfig:        c.DefaultConfig,
		RequireDefaultConfig: c.RequireDefaultConfig,
		ProtectedExts:        c.ProtectedExts,
		LocalOnlyConfigs:     c.LocalOnlyConfigs,
		Policy:               c.Pure,
		Debug:                c.Debug,
		Logger:               logger,
		Metrics:              m,
	}
}
