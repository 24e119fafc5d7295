// Package config loads and validates the daemon's configuration:
// indexed roots, fusion weights, the embedding/face backends, and
// performance tuning. Layering follows increasing precedence: hardcoded
// defaults, user/global config, library config, environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete photovaultd configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Roots       RootsConfig       `yaml:"roots" json:"roots"`
	Fusion      FusionConfig      `yaml:"fusion" json:"fusion"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	FaceSearch  FaceSearchConfig  `yaml:"face_search" json:"face_search"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	VectorIndex VectorIndexConfig `yaml:"vector_index" json:"vector_index"`
	Server      ServerConfig      `yaml:"server" json:"server"`
}

// RootsConfig names the directories that are crawled for photos.
type RootsConfig struct {
	Paths      []string `yaml:"paths" json:"paths"`
	Extensions []string `yaml:"extensions" json:"extensions"`
	Exclude    []string `yaml:"exclude" json:"exclude"`
}

// FusionConfig tunes rank fusion across query sources (§4.7).
type FusionConfig struct {
	Method         string  `yaml:"method" json:"method"` // "rrf", "weighted_sum", "borda", or "" for auto
	RRFConstant    int     `yaml:"rrf_constant" json:"rrf_constant"`
	TextWeight     float64 `yaml:"text_weight" json:"text_weight"`
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	ImageWeight    float64 `yaml:"image_weight" json:"image_weight"`
	FaceWeight     float64 `yaml:"face_weight" json:"face_weight"`
	MetadataWeight float64 `yaml:"metadata_weight" json:"metadata_weight"`
}

// EmbeddingsConfig configures the image/text embedding backend.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"` // "onnx", "ollama", or "" for auto-detect
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`

	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	ModelDownloadTimeout time.Duration `yaml:"model_download_timeout" json:"model_download_timeout"`
}

// FaceSearchConfig gates the optional Face Recognizer pipeline.
type FaceSearchConfig struct {
	Enabled                   bool    `yaml:"enabled" json:"enabled"`
	MatchThreshold            float64 `yaml:"match_threshold" json:"match_threshold"`
	MinSamplesBeforeAutoMatch int     `yaml:"min_samples_before_auto_match" json:"min_samples_before_auto_match"`
}

// PerformanceConfig tunes worker counts and cache sizing.
type PerformanceConfig struct {
	IndexWorkers  int    `yaml:"index_workers" json:"index_workers"`
	SQLiteCacheMB int    `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
	MemoryLimit   string `yaml:"memory_limit" json:"memory_limit"`
	ThumbnailSize int    `yaml:"thumbnail_size" json:"thumbnail_size"`
}

// VectorIndexConfig tunes the ANN index's tiering and persistence.
type VectorIndexConfig struct {
	PersistPath           string `yaml:"persist_path" json:"persist_path"`
	AutoOptimizeThreshold int    `yaml:"auto_optimize_threshold" json:"auto_optimize_threshold"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// defaultExcludePatterns are always excluded from crawling.
var defaultExcludePatterns = []string{
	"**/.Trash*/**",
	"**/@eaDir/**",
	"**/.thumbnails/**",
	"**/Thumbs.db",
}

var defaultExtensions = []string{".jpg", ".jpeg", ".png", ".heic", ".tiff", ".webp"}

// NewConfig returns a Config populated with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Roots: RootsConfig{
			Paths:      []string{},
			Extensions: defaultExtensions,
			Exclude:    defaultExcludePatterns,
		},
		Fusion: FusionConfig{
			Method:         "",
			RRFConstant:    60,
			TextWeight:     1.0,
			SemanticWeight: 0.8,
			ImageWeight:    0.9,
			FaceWeight:     0.7,
			MetadataWeight: 0.5,
		},
		Embeddings: EmbeddingsConfig{
			Provider:             "",
			Model:                "clip-vit-b32",
			Dimensions:           0,
			BatchSize:            16,
			OllamaHost:           "",
			ModelDownloadTimeout: 10 * time.Minute,
		},
		FaceSearch: FaceSearchConfig{
			Enabled:                   false,
			MatchThreshold:            0.45,
			MinSamplesBeforeAutoMatch: 3,
		},
		Performance: PerformanceConfig{
			IndexWorkers:  runtime.NumCPU(),
			SQLiteCacheMB: 64,
			MemoryLimit:   "auto",
			ThumbnailSize: 320,
		},
		VectorIndex: VectorIndexConfig{
			PersistPath:           defaultVectorIndexPath(),
			AutoOptimizeThreshold: 0, // 0 = Manager's own default
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8787,
			LogLevel: "info",
		},
	}
}

func defaultVectorIndexPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".photovault", "vector.idx")
	}
	return filepath.Join(home, ".photovault", "vector.idx")
}

// GetUserConfigPath returns the global configuration file path,
// following the XDG Base Directory specification.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "photovault", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "photovault", "config.yaml")
	}
	return filepath.Join(home, ".config", "photovault", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user config.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user config file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration from dir, applying in order of increasing
// precedence: hardcoded defaults, user/global config
// (~/.config/photovault/config.yaml), library config (photovault.yaml
// in dir), then PHOTOVAULT_* environment variables.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, "photovault.yaml")
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, "photovault.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Roots.Paths) > 0 {
		c.Roots.Paths = other.Roots.Paths
	}
	if len(other.Roots.Extensions) > 0 {
		c.Roots.Extensions = other.Roots.Extensions
	}
	if len(other.Roots.Exclude) > 0 {
		c.Roots.Exclude = append(c.Roots.Exclude, other.Roots.Exclude...)
	}

	if other.Fusion.Method != "" {
		c.Fusion.Method = other.Fusion.Method
	}
	if other.Fusion.RRFConstant != 0 {
		c.Fusion.RRFConstant = other.Fusion.RRFConstant
	}
	if other.Fusion.TextWeight != 0 {
		c.Fusion.TextWeight = other.Fusion.TextWeight
	}
	if other.Fusion.SemanticWeight != 0 {
		c.Fusion.SemanticWeight = other.Fusion.SemanticWeight
	}
	if other.Fusion.ImageWeight != 0 {
		c.Fusion.ImageWeight = other.Fusion.ImageWeight
	}
	if other.Fusion.FaceWeight != 0 {
		c.Fusion.FaceWeight = other.Fusion.FaceWeight
	}
	if other.Fusion.MetadataWeight != 0 {
		c.Fusion.MetadataWeight = other.Fusion.MetadataWeight
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.ModelDownloadTimeout != 0 {
		c.Embeddings.ModelDownloadTimeout = other.Embeddings.ModelDownloadTimeout
	}

	if other.FaceSearch.MatchThreshold != 0 {
		c.FaceSearch.MatchThreshold = other.FaceSearch.MatchThreshold
	}
	if other.FaceSearch.MinSamplesBeforeAutoMatch != 0 {
		c.FaceSearch.MinSamplesBeforeAutoMatch = other.FaceSearch.MinSamplesBeforeAutoMatch
	}
	if other.FaceSearch.Enabled {
		c.FaceSearch.Enabled = true
	}

	if other.Performance.IndexWorkers != 0 {
		c.Performance.IndexWorkers = other.Performance.IndexWorkers
	}
	if other.Performance.SQLiteCacheMB != 0 {
		c.Performance.SQLiteCacheMB = other.Performance.SQLiteCacheMB
	}
	if other.Performance.MemoryLimit != "" {
		c.Performance.MemoryLimit = other.Performance.MemoryLimit
	}
	if other.Performance.ThumbnailSize != 0 {
		c.Performance.ThumbnailSize = other.Performance.ThumbnailSize
	}

	if other.VectorIndex.PersistPath != "" {
		c.VectorIndex.PersistPath = other.VectorIndex.PersistPath
	}
	if other.VectorIndex.AutoOptimizeThreshold != 0 {
		c.VectorIndex.AutoOptimizeThreshold = other.VectorIndex.AutoOptimizeThreshold
	}

	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies PHOTOVAULT_* environment variable overrides,
// the highest-precedence configuration layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PHOTOVAULT_FUSION_METHOD"); v != "" {
		c.Fusion.Method = v
	}
	if v := os.Getenv("PHOTOVAULT_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Fusion.RRFConstant = k
		}
	}
	if v := os.Getenv("PHOTOVAULT_TEXT_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Fusion.TextWeight = w
		}
	}
	if v := os.Getenv("PHOTOVAULT_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Fusion.SemanticWeight = w
		}
	}

	if v := os.Getenv("PHOTOVAULT_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("PHOTOVAULT_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("PHOTOVAULT_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}

	if v := os.Getenv("PHOTOVAULT_FACE_SEARCH_ENABLED"); v != "" {
		c.FaceSearch.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("PHOTOVAULT_FACE_MATCH_THRESHOLD"); v != "" {
		if t, err := parseFloat64(v); err == nil && t >= 0 && t <= 1 {
			c.FaceSearch.MatchThreshold = t
		}
	}

	if v := os.Getenv("PHOTOVAULT_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.IndexWorkers = n
		}
	}

	if v := os.Getenv("PHOTOVAULT_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PHOTOVAULT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("PHOTOVAULT_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate returns an error if the configuration is inconsistent.
func (c *Config) Validate() error {
	if c.Fusion.RRFConstant <= 0 {
		return fmt.Errorf("fusion.rrf_constant must be positive, got %d", c.Fusion.RRFConstant)
	}
	for name, w := range map[string]float64{
		"text_weight": c.Fusion.TextWeight, "semantic_weight": c.Fusion.SemanticWeight,
		"image_weight": c.Fusion.ImageWeight, "face_weight": c.Fusion.FaceWeight,
		"metadata_weight": c.Fusion.MetadataWeight,
	} {
		if w < 0 {
			return fmt.Errorf("fusion.%s must be non-negative, got %f", name, w)
		}
	}

	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"onnx": true, "ollama": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'onnx', 'ollama', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	if c.FaceSearch.MatchThreshold < 0 || c.FaceSearch.MatchThreshold > 1 {
		return fmt.Errorf("face_search.match_threshold must be between 0 and 1, got %f", c.FaceSearch.MatchThreshold)
	}

	if c.Performance.IndexWorkers <= 0 {
		return fmt.Errorf("performance.index_workers must be positive, got %d", c.Performance.IndexWorkers)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file, returning a nil
// config and nil error if it doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
