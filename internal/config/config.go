// Package config loads bioref's configuration from a YAML file and the
// environment. A Config is built once at startup and handed to each
// component; nothing reads configuration from globals afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/systemshift/bioref/internal/fetch"
	"github.com/systemshift/bioref/internal/projector"
	"github.com/systemshift/bioref/internal/records"
	"github.com/systemshift/bioref/internal/server/graph"
	"github.com/systemshift/bioref/internal/server/subscriptions"
)

// Data kinds, which are also the subdirectories of DataDir holding the
// interchange files.
const (
	KindTerms     = "terms"
	KindOrthologs = "orthologs"
)

// Config is the complete runtime configuration.
type Config struct {
	DataDir      string                `yaml:"data_dir"`
	DownloadsDir string                `yaml:"downloads_dir"`
	Species      []string              `yaml:"species"`
	BatchSize    int                   `yaml:"batch_size"`
	Concurrency  int                   `yaml:"concurrency"`
	MaxAgeDays   int                   `yaml:"max_age_days"`
	FetchRate    float64               `yaml:"fetch_rate"`
	LogMode      string                `yaml:"log_mode"`
	LogLevel     string                `yaml:"log_level"`
	Port         string                `yaml:"port"`
	Graph        GraphConfig           `yaml:"graph"`
	Collections  projector.Collections `yaml:"collections"`
	Sources      []SourceConfig        `yaml:"sources"`
	// Webhooks are notified when fetch and load jobs finish.
	Webhooks []subscriptions.Subscription `yaml:"webhooks"`
}

// GraphConfig selects and connects the graph store.
type GraphConfig struct {
	Backend     string `yaml:"backend"`
	URI         string `yaml:"uri"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	MaxPoolSize int    `yaml:"max_pool_size"`
	SQLitePath  string `yaml:"sqlite_path"`
}

// SourceConfig describes one remote file to mirror.
type SourceConfig struct {
	Name       string `yaml:"name"`
	Protocol   string `yaml:"protocol"`
	Server     string `yaml:"server"`
	Path       string `yaml:"path"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Compress   bool   `yaml:"compress"`
	MaxAgeDays int    `yaml:"max_age_days"`
	// LocalName overrides the derived cache file name.
	LocalName string `yaml:"local_name"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() Config {
	return Config{
		DataDir:      "data",
		DownloadsDir: "downloads",
		BatchSize:    1000,
		Concurrency:  4,
		MaxAgeDays:   7,
		FetchRate:    1,
		LogMode:      "dev",
		LogLevel:     "info",
		Port:         "8080",
		Graph: GraphConfig{
			Backend:    graph.BackendSQLite,
			URI:        "bolt://localhost:7687",
			User:       "neo4j",
			Database:   "neo4j",
			SQLitePath: "bioref.db",
		},
		Collections: projector.DefaultCollections,
	}
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("BIOREF_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.Collections = cfg.Collections.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	str("BIOREF_DATA_DIR", &c.DataDir)
	str("BIOREF_DOWNLOADS_DIR", &c.DownloadsDir)
	str("BIOREF_LOG_MODE", &c.LogMode)
	str("BIOREF_LOG_LEVEL", &c.LogLevel)
	str("BIOREF_GRAPH_BACKEND", &c.Graph.Backend)
	str("BIOREF_SQLITE_PATH", &c.Graph.SQLitePath)
	str("NEO4J_URI", &c.Graph.URI)
	str("NEO4J_USER", &c.Graph.User)
	str("NEO4J_PASSWORD", &c.Graph.Password)
	str("NEO4J_DATABASE", &c.Graph.Database)
	str("PORT", &c.Port)
	num("BIOREF_BATCH_SIZE", &c.BatchSize)
	num("BIOREF_CONCURRENCY", &c.Concurrency)
	num("NEO4J_MAX_POOL_SIZE", &c.Graph.MaxPoolSize)

	if v, ok := lookup("BIOREF_SPECIES"); ok {
		var species []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				species = append(species, s)
			}
		}
		c.Species = species
	}
}

// Validate reports every configuration problem found.
func (c Config) Validate() error {
	var errs []error
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	switch strings.ToLower(c.Graph.Backend) {
	case graph.BackendNeo4j, graph.BackendSQLite, graph.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", graph.ErrUnknownBackend, c.Graph.Backend))
	}

	seen := make(map[string]bool)
	for i, s := range c.Sources {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		if _, err := fetch.ParseProtocol(s.Protocol); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d] %s: %w", i, s.Name, err))
		}
		if s.Server == "" || s.Path == "" {
			errs = append(errs, fmt.Errorf("sources[%d] %s: server and path are required", i, s.Name))
		}
	}
	if err := subscriptions.Validate(c.Webhooks); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SpeciesSet returns the species allow-list.
func (c Config) SpeciesSet() records.SpeciesSet {
	return records.NewSpeciesSet(c.Species...)
}

// GraphStore returns the graph store connection settings.
func (c Config) GraphStore() graph.Config {
	return graph.Config{
		Backend:     c.Graph.Backend,
		URI:         c.Graph.URI,
		Username:    c.Graph.User,
		Password:    c.Graph.Password,
		Database:    c.Graph.Database,
		MaxPoolSize: c.Graph.MaxPoolSize,
		SQLitePath:  c.Graph.SQLitePath,
	}
}

// KindDir is the directory holding interchange files of kind.
func (c Config) KindDir(kind string) string {
	return filepath.Join(c.DataDir, kind)
}

// Source looks up a configured source by name.
func (c Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// Remote converts the source into the fetcher's description.
func (s SourceConfig) Remote() fetch.Source {
	proto, _ := fetch.ParseProtocol(s.Protocol)
	return fetch.Source{
		Name:     s.Name,
		Protocol: proto,
		Server:   s.Server,
		Path:     s.Path,
		User:     s.User,
		Password: s.Password,
	}
}

// Cache returns the local cache file for the source under downloadsDir.
func (s SourceConfig) Cache(downloadsDir string) fetch.CacheFile {
	name := s.LocalName
	if name == "" {
		name = fetch.LocalName(s.Path, s.Name, s.Compress)
	}
	return fetch.CacheFile{Path: filepath.Join(downloadsDir, name)}
}

// FetchOptions returns the per-source fetch options, falling back to the
// global max age.
func (s SourceConfig) FetchOptions(defaultMaxAge int, force bool) fetch.Options {
	age := s.MaxAgeDays
	if age <= 0 {
		age = defaultMaxAge
	}
	return fetch.Options{MaxAgeDays: age, Force: force, Compress: s.Compress}
}
