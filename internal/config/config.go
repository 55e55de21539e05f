package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

// CurrentVersion is the config schema version written by WriteYAML.
const CurrentVersion = 1

// Project config file names, in lookup order.
var projectFiles = []string{".amanfacet.yaml", ".amanfacet.yml", ".amanfacet.toml"}

// Config is the complete amanfacet configuration.
type Config struct {
	Version int           `yaml:"version" toml:"version" json:"version"`
	Index   IndexConfig   `yaml:"index" toml:"index" json:"index"`
	Writer  WriterConfig  `yaml:"writer" toml:"writer" json:"writer"`
	Search  SearchConfig  `yaml:"search" toml:"search" json:"search"`
	Lease   LeaseConfig   `yaml:"lease" toml:"lease" json:"lease"`
	Backup  BackupConfig  `yaml:"backup" toml:"backup" json:"backup"`
	Logging LoggingConfig `yaml:"logging" toml:"logging" json:"logging"`
}

// IndexConfig locates index data on disk.
type IndexConfig struct {
	// DataDir holds one directory per index name.
	DataDir string `yaml:"data_dir" toml:"data_dir" json:"data_dir"`

	// InMemory keeps indexes in memory only; DataDir is ignored and no
	// ledger or file lease is created.
	InMemory bool `yaml:"in_memory" toml:"in_memory" json:"in_memory"`

	// Analyzer is the bleve analyzer for text fields (standard, simple,
	// keyword, en).
	Analyzer string `yaml:"analyzer" toml:"analyzer" json:"analyzer"`
}

// WriterConfig tunes the document writer.
type WriterConfig struct {
	// MaxWaiters bounds callers queued behind the active writer call.
	MaxWaiters int `yaml:"max_waiters" toml:"max_waiters" json:"max_waiters"`

	// BlockWhenBusy makes callers wait for admission instead of failing
	// with ERR_604_WRITER_BUSY.
	BlockWhenBusy bool `yaml:"block_when_busy" toml:"block_when_busy" json:"block_when_busy"`

	// Ledger records every commit in <index>.ledger.db.
	Ledger bool `yaml:"ledger" toml:"ledger" json:"ledger"`
}

// SearchConfig tunes the search engine and its readers.
type SearchConfig struct {
	MaxPageSize      int `yaml:"max_page_size" toml:"max_page_size" json:"max_page_size"`
	MaxFacetValues   int `yaml:"max_facet_values" toml:"max_facet_values" json:"max_facet_values"`
	CacheSize        int `yaml:"cache_size" toml:"cache_size" json:"cache_size"`
	FetchConcurrency int `yaml:"fetch_concurrency" toml:"fetch_concurrency" json:"fetch_concurrency"`

	// QueryTimeout bounds each query, e.g. "2s". Empty or "0" disables it.
	QueryTimeout string `yaml:"query_timeout" toml:"query_timeout" json:"query_timeout"`

	// RefreshPolicy is manual, on_stale or interval.
	RefreshPolicy string `yaml:"refresh_policy" toml:"refresh_policy" json:"refresh_policy"`

	// RefreshInterval is used by the interval policy, e.g. "1s".
	RefreshInterval string `yaml:"refresh_interval" toml:"refresh_interval" json:"refresh_interval"`
}

// LeaseConfig selects how writers claim an index.
type LeaseConfig struct {
	// Kind is none, file or redis.
	Kind string `yaml:"kind" toml:"kind" json:"kind"`

	// RedisURL is used by the redis kind, e.g. redis://localhost:6379/0.
	RedisURL string `yaml:"redis_url" toml:"redis_url" json:"redis_url"`

	// TTL is the redis lease expiry, e.g. "15s".
	TTL string `yaml:"ttl" toml:"ttl" json:"ttl"`
}

// BackupConfig selects the object store used by export and restore.
type BackupConfig struct {
	// Store is local, s3 or minio.
	Store string `yaml:"store" toml:"store" json:"store"`

	// LocalDir is the archive directory of the local store.
	LocalDir string `yaml:"local_dir" toml:"local_dir" json:"local_dir"`

	Bucket    string `yaml:"bucket" toml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" toml:"prefix" json:"prefix"`
	Region    string `yaml:"region" toml:"region" json:"region"`
	Endpoint  string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access_key" toml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" toml:"secret_key" json:"-"`
	UseSSL    bool   `yaml:"use_ssl" toml:"use_ssl" json:"use_ssl"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level     string `yaml:"level" toml:"level" json:"level"`
	File      string `yaml:"file" toml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" toml:"max_files" json:"max_files"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Index: IndexConfig{
			DataDir:  defaultDataDir(),
			Analyzer: "standard",
		},
		Writer: WriterConfig{
			MaxWaiters: 64,
			Ledger:     true,
		},
		Search: SearchConfig{
			MaxPageSize:      1000,
			MaxFacetValues:   100,
			CacheSize:        1024,
			FetchConcurrency: 8,
			RefreshPolicy:    "on_stale",
			RefreshInterval:  "1s",
		},
		Lease: LeaseConfig{
			Kind: "file",
			TTL:  "15s",
		},
		Backup: BackupConfig{
			Store:    "local",
			LocalDir: filepath.Join(filepath.Dir(defaultDataDir()), "backups"),
			Prefix:   "amanfacet/",
			Region:   "us-east-1",
			UseSSL:   true,
		},
		Logging: LoggingConfig{
			Level:     "warn",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanfacet", "data")
	}
	return filepath.Join(home, ".amanfacet", "data")
}

// GetUserConfigPath returns the user configuration file:
//   - $XDG_CONFIG_HOME/amanfacet/config.yaml when XDG_CONFIG_HOME is set
//   - ~/.config/amanfacet/config.yaml otherwise
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanfacet", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanfacet", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanfacet", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load builds the configuration for dir, in increasing precedence:
//  1. NewConfig defaults
//  2. user config (~/.config/amanfacet/config.yaml)
//  3. project config (.amanfacet.yaml, .amanfacet.yml or .amanfacet.toml in dir)
//  4. AMANFACET_* environment variables
//
// The result is validated before it is returned.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}

	if path := FindProjectConfig(dir); path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads defaults overlaid with a single file, then env, then validates.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.decodeFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindProjectConfig returns the first project config file present in dir,
// or "" when there is none.
func FindProjectConfig(dir string) string {
	for _, name := range projectFiles {
		if path := filepath.Join(dir, name); fileExists(path) {
			return path
		}
	}
	return ""
}

// decodeFile overlays the file onto c. Keys absent from the file keep
// their current value, so explicit false and zero values are honored.
func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return amerrors.ConfigError("failed to read config file", err).WithDetail("path", path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, c)
	} else {
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return amerrors.ConfigError("failed to parse config file", err).
			WithDetail("path", path).
			WithSuggestion("check the file syntax against `amanfacet config show`")
	}
	return nil
}

type envOverride struct {
	name  string
	apply func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"AMANFACET_DATA_DIR", func(c *Config, v string) error { c.Index.DataDir = v; return nil }},
	{"AMANFACET_IN_MEMORY", func(c *Config, v string) error { return setBool(&c.Index.InMemory, v) }},
	{"AMANFACET_ANALYZER", func(c *Config, v string) error { c.Index.Analyzer = v; return nil }},
	{"AMANFACET_MAX_WAITERS", func(c *Config, v string) error { return setInt(&c.Writer.MaxWaiters, v) }},
	{"AMANFACET_BLOCK_WHEN_BUSY", func(c *Config, v string) error { return setBool(&c.Writer.BlockWhenBusy, v) }},
	{"AMANFACET_LEDGER", func(c *Config, v string) error { return setBool(&c.Writer.Ledger, v) }},
	{"AMANFACET_MAX_PAGE_SIZE", func(c *Config, v string) error { return setInt(&c.Search.MaxPageSize, v) }},
	{"AMANFACET_MAX_FACET_VALUES", func(c *Config, v string) error { return setInt(&c.Search.MaxFacetValues, v) }},
	{"AMANFACET_CACHE_SIZE", func(c *Config, v string) error { return setInt(&c.Search.CacheSize, v) }},
	{"AMANFACET_QUERY_TIMEOUT", func(c *Config, v string) error { c.Search.QueryTimeout = v; return nil }},
	{"AMANFACET_REFRESH_POLICY", func(c *Config, v string) error { c.Search.RefreshPolicy = v; return nil }},
	{"AMANFACET_LEASE", func(c *Config, v string) error { c.Lease.Kind = v; return nil }},
	{"AMANFACET_REDIS_URL", func(c *Config, v string) error { c.Lease.RedisURL = v; return nil }},
	{"AMANFACET_BACKUP_STORE", func(c *Config, v string) error { c.Backup.Store = v; return nil }},
	{"AMANFACET_BACKUP_DIR", func(c *Config, v string) error { c.Backup.LocalDir = v; return nil }},
	{"AMANFACET_BACKUP_BUCKET", func(c *Config, v string) error { c.Backup.Bucket = v; return nil }},
	{"AMANFACET_BACKUP_ENDPOINT", func(c *Config, v string) error { c.Backup.Endpoint = v; return nil }},
	{"AMANFACET_BACKUP_ACCESS_KEY", func(c *Config, v string) error { c.Backup.AccessKey = v; return nil }},
	{"AMANFACET_BACKUP_SECRET_KEY", func(c *Config, v string) error { c.Backup.SecretKey = v; return nil }},
	{"AMANFACET_LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"AMANFACET_LOG_FILE", func(c *Config, v string) error { c.Logging.File = v; return nil }},
}

// applyEnvOverrides applies the AMANFACET_* environment variables. A
// malformed number or boolean is a config error rather than ignored.
func (c *Config) applyEnvOverrides() error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(c, strings.TrimSpace(v)); err != nil {
			return amerrors.ConfigError("invalid environment override", err).WithDetail("variable", o.name)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

// ParseDuration parses a config duration. Empty and "0" mean zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// QueryTimeoutDuration returns the parsed query timeout.
func (s SearchConfig) QueryTimeoutDuration() time.Duration {
	d, _ := ParseDuration(s.QueryTimeout)
	return d
}

// RefreshIntervalDuration returns the parsed refresh interval.
func (s SearchConfig) RefreshIntervalDuration() time.Duration {
	d, _ := ParseDuration(s.RefreshInterval)
	return d
}

// TTLDuration returns the parsed redis lease TTL.
func (l LeaseConfig) TTLDuration() time.Duration {
	d, _ := ParseDuration(l.TTL)
	return d
}

// IndexPath returns the on-disk directory of the named index, or "" for
// in-memory indexes.
func (c *Config) IndexPath(name string) string {
	if c.Index.InMemory {
		return ""
	}
	return filepath.Join(c.Index.DataDir, name)
}

var (
	validAnalyzers = map[string]bool{"standard": true, "simple": true, "keyword": true, "en": true}
	validPolicies  = map[string]bool{"manual": true, "on_stale": true, "interval": true}
	validLeases    = map[string]bool{"none": true, "file": true, "redis": true}
	validStores    = map[string]bool{"local": true, "s3": true, "minio": true}
	validLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks the configuration and returns an ERR_102_CONFIG_INVALID
// error naming the first offending field.
func (c *Config) Validate() error {
	invalid := func(field, msg string) error {
		return amerrors.ConfigError(field+": "+msg, nil).WithDetail("field", field)
	}

	if !c.Index.InMemory && strings.TrimSpace(c.Index.DataDir) == "" {
		return invalid("index.data_dir", "must be set unless index.in_memory is true")
	}
	if !validAnalyzers[c.Index.Analyzer] {
		return invalid("index.analyzer", fmt.Sprintf("must be standard, simple, keyword or en, got %q", c.Index.Analyzer))
	}

	if c.Writer.MaxWaiters < 0 {
		return invalid("writer.max_waiters", fmt.Sprintf("must be non-negative, got %d", c.Writer.MaxWaiters))
	}

	if c.Search.MaxPageSize <= 0 {
		return invalid("search.max_page_size", fmt.Sprintf("must be positive, got %d", c.Search.MaxPageSize))
	}
	if c.Search.MaxFacetValues <= 0 {
		return invalid("search.max_facet_values", fmt.Sprintf("must be positive, got %d", c.Search.MaxFacetValues))
	}
	if c.Search.CacheSize < 0 {
		return invalid("search.cache_size", fmt.Sprintf("must be non-negative, got %d", c.Search.CacheSize))
	}
	if c.Search.FetchConcurrency <= 0 {
		return invalid("search.fetch_concurrency", fmt.Sprintf("must be positive, got %d", c.Search.FetchConcurrency))
	}
	if _, err := ParseDuration(c.Search.QueryTimeout); err != nil {
		return invalid("search.query_timeout", err.Error())
	}
	if !validPolicies[c.Search.RefreshPolicy] {
		return invalid("search.refresh_policy", fmt.Sprintf("must be manual, on_stale or interval, got %q", c.Search.RefreshPolicy))
	}
	if d, err := ParseDuration(c.Search.RefreshInterval); err != nil {
		return invalid("search.refresh_interval", err.Error())
	} else if c.Search.RefreshPolicy == "interval" && d == 0 {
		return invalid("search.refresh_interval", "must be set for the interval policy")
	}

	if !validLeases[c.Lease.Kind] {
		return invalid("lease.kind", fmt.Sprintf("must be none, file or redis, got %q", c.Lease.Kind))
	}
	if c.Lease.Kind == "redis" && c.Lease.RedisURL == "" {
		return invalid("lease.redis_url", "must be set for the redis lease")
	}
	if d, err := ParseDuration(c.Lease.TTL); err != nil {
		return invalid("lease.ttl", err.Error())
	} else if c.Lease.Kind == "redis" && d < time.Second {
		return invalid("lease.ttl", "must be at least 1s for the redis lease")
	}

	if !validStores[c.Backup.Store] {
		return invalid("backup.store", fmt.Sprintf("must be local, s3 or minio, got %q", c.Backup.Store))
	}
	switch c.Backup.Store {
	case "local":
		if c.Backup.LocalDir == "" {
			return invalid("backup.local_dir", "must be set for the local store")
		}
	case "s3", "minio":
		if c.Backup.Bucket == "" {
			return invalid("backup.bucket", "must be set for "+c.Backup.Store)
		}
	}
	if c.Backup.Store == "minio" && c.Backup.Endpoint == "" {
		return invalid("backup.endpoint", "must be set for minio")
	}

	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return invalid("logging.level", fmt.Sprintf("must be debug, info, warn or error, got %q", c.Logging.Level))
	}
	return nil
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return amerrors.ConfigError("failed to marshal config", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "failed to create config directory", err).WithDetail("path", path)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "failed to write config file", err).WithDetail("path", path)
	}
	return nil
}

// MergeNewDefaults fills fields that are unset in c (zero values) with the
// current defaults and returns the dotted names it added. Booleans are
// left alone since false cannot be told apart from unset.
func (c *Config) MergeNewDefaults() []string {
	d := NewConfig()
	var added []string

	fillString := func(dst *string, def, name string) {
		if *dst == "" && def != "" {
			*dst = def
			added = append(added, name)
		}
	}
	fillInt := func(dst *int, def int, name string) {
		if *dst == 0 && def != 0 {
			*dst = def
			added = append(added, name)
		}
	}

	if c.Version == 0 {
		c.Version = CurrentVersion
		added = append(added, "version")
	}
	fillString(&c.Index.DataDir, d.Index.DataDir, "index.data_dir")
	fillString(&c.Index.Analyzer, d.Index.Analyzer, "index.analyzer")
	fillInt(&c.Writer.MaxWaiters, d.Writer.MaxWaiters, "writer.max_waiters")
	fillInt(&c.Search.MaxPageSize, d.Search.MaxPageSize, "search.max_page_size")
	fillInt(&c.Search.MaxFacetValues, d.Search.MaxFacetValues, "search.max_facet_values")
	fillInt(&c.Search.CacheSize, d.Search.CacheSize, "search.cache_size")
	fillInt(&c.Search.FetchConcurrency, d.Search.FetchConcurrency, "search.fetch_concurrency")
	fillString(&c.Search.RefreshPolicy, d.Search.RefreshPolicy, "search.refresh_policy")
	fillString(&c.Search.RefreshInterval, d.Search.RefreshInterval, "search.refresh_interval")
	fillString(&c.Lease.Kind, d.Lease.Kind, "lease.kind")
	fillString(&c.Lease.TTL, d.Lease.TTL, "lease.ttl")
	fillString(&c.Backup.Store, d.Backup.Store, "backup.store")
	fillString(&c.Backup.LocalDir, d.Backup.LocalDir, "backup.local_dir")
	fillString(&c.Backup.Region, d.Backup.Region, "backup.region")
	fillString(&c.Logging.Level, d.Logging.Level, "logging.level")
	fillInt(&c.Logging.MaxSizeMB, d.Logging.MaxSizeMB, "logging.max_size_mb")
	fillInt(&c.Logging.MaxFiles, d.Logging.MaxFiles, "logging.max_files")
	return added
}

// LoadUserConfig reads the user configuration file over zero values, so
// MergeNewDefaults can see which fields it lacks. It returns nil, nil when
// the file does not exist.
func LoadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := &Config{}
	if err := cfg.decodeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
