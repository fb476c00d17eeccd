// Package config loads s3zip configuration from defaults, an optional
// config file, the environment, and runtime overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Identity names used for the config file and environment.
const (
	ConfigName = "s3zip"
	EnvPrefix  = "S3ZIP"
)

// Storage providers.
const (
	ProviderS3   = "s3"
	ProviderFile = "file"
)

// Progress backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Progress ProgressConfig `mapstructure:"progress"`
	Job      JobConfig      `mapstructure:"job"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// StorageConfig selects where archives are read from and written to.
type StorageConfig struct {
	// Provider is "s3" or "file".
	Provider string `mapstructure:"provider"`

	// Region is the default region for buckets without their own entry.
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`

	// BaseDir is the root for the file provider; each bucket is a
	// subdirectory.
	BaseDir string `mapstructure:"base_dir"`

	// Buckets lists the buckets the server accepts, with per-bucket
	// settings. Empty accepts any bucket.
	Buckets map[string]BucketConfig `mapstructure:"buckets"`
}

type BucketConfig struct {
	Region string `mapstructure:"region"`
}

// RegionFor returns the region for bucket and whether the bucket is
// accepted.
func (s StorageConfig) RegionFor(bucket string) (string, bool) {
	if len(s.Buckets) == 0 {
		return s.Region, true
	}
	b, ok := s.Buckets[bucket]
	if !ok {
		return "", false
	}
	if b.Region != "" {
		return b.Region, true
	}
	return s.Region, true
}

// ProgressConfig selects the progress store.
type ProgressConfig struct {
	// Backend is "dynamodb" or "sqlite".
	Backend  string `mapstructure:"backend"`
	Table    string `mapstructure:"table"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`

	// Path is the SQLite database file. Empty uses the app data dir.
	Path string `mapstructure:"path"`
}

// JobConfig tunes the archive pipeline.
type JobConfig struct {
	ScratchDir         string   `mapstructure:"scratch_dir"`
	ListConcurrency    int      `mapstructure:"list_concurrency"`
	ListRateLimit      float64  `mapstructure:"list_rate_limit"`
	Exclude            []string `mapstructure:"exclude"`
	ArchiveConcurrency int      `mapstructure:"archive_concurrency"`
	ValidateSize       bool     `mapstructure:"validate_size"`
	PartSize           int64    `mapstructure:"part_size"`
	UploadConcurrency  int      `mapstructure:"upload_concurrency"`
	StorageClass       string   `mapstructure:"storage_class"`
	Tagging            string   `mapstructure:"tagging"`
}

// EnvSpec maps a short environment variable to a config path. Every key is
// also reachable as S3ZIP_<PATH> with dots replaced by underscores.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// minPartSize mirrors the multipart minimum enforced by object stores.
const minPartSize = 5 * 1024 * 1024

func getEnvSpecs() []EnvSpec {
	specs := []struct{ suffix, path string }{
		{"HOST", "server.host"},
		{"PORT", "server.port"},
		{"READ_TIMEOUT", "server.read_timeout"},
		{"WRITE_TIMEOUT", "server.write_timeout"},
		{"IDLE_TIMEOUT", "server.idle_timeout"},
		{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"LOG_LEVEL", "logging.level"},
		{"LOG_PROFILE", "logging.profile"},
		{"STORAGE_PROVIDER", "storage.provider"},
		{"REGION", "storage.region"},
		{"ENDPOINT", "storage.endpoint"},
		{"BASE_DIR", "storage.base_dir"},
		{"PROGRESS_BACKEND", "progress.backend"},
		{"PROGRESS_TABLE", "progress.table"},
		{"PROGRESS_PATH", "progress.path"},
		{"SCRATCH_DIR", "job.scratch_dir"},
	}
	out := make([]EnvSpec, 0, len(specs))
	for _, s := range specs {
		out = append(out, EnvSpec{Name: EnvPrefix + "_" + s.suffix, Path: s.path})
	}
	return out
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("storage.provider", ProviderS3)
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.profile", "")
	v.SetDefault("storage.force_path_style", false)
	v.SetDefault("storage.base_dir", "")

	v.SetDefault("progress.backend", BackendDynamoDB)
	v.SetDefault("progress.table", "ZipProgress")
	v.SetDefault("progress.region", "")
	v.SetDefault("progress.endpoint", "")
	v.SetDefault("progress.path", "")

	v.SetDefault("job.scratch_dir", filepath.Join(os.TempDir(), "s3zip"))
	v.SetDefault("job.list_concurrency", 4)
	v.SetDefault("job.list_rate_limit", 0)
	v.SetDefault("job.exclude", []string{})
	v.SetDefault("job.archive_concurrency", 16)
	v.SetDefault("job.validate_size", true)
	v.SetDefault("job.part_size", minPartSize)
	v.SetDefault("job.upload_concurrency", 4)
	v.SetDefault("job.storage_class", "GLACIER_IR")
	v.SetDefault("job.tagging", "zipBy=s3-ui")
}

// Load builds the configuration without a config file override. See
// LoadFile.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile builds the configuration. Precedence, lowest first: defaults,
// config file, environment, overrides. An empty path searches for
// s3zip.yaml in the working directory and the user config dir; a missing
// file is not an error unless path was given explicitly.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		for _, p := range getUserConfigPaths() {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name, envName(spec.Path)); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for k, val := range flatten("", o) {
			v.Set(k, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// DefaultProgressPath is the SQLite progress database under the app data dir.
func DefaultProgressPath() string {
	return filepath.Join(gfconfig.GetAppDataDir(ConfigName), "progress.db")
}

func getUserConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigName))
	}
	return paths
}

func envName(path string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func normalize(cfg *Config) {
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Profile = strings.ToLower(strings.TrimSpace(cfg.Logging.Profile))
	cfg.Storage.Provider = strings.ToLower(strings.TrimSpace(cfg.Storage.Provider))
	cfg.Progress.Backend = strings.ToLower(strings.TrimSpace(cfg.Progress.Backend))
	if cfg.Progress.Backend == BackendSQLite && strings.TrimSpace(cfg.Progress.Path) == "" {
		cfg.Progress.Path = DefaultProgressPath()
	}

	exclude := cfg.Job.Exclude[:0]
	for _, p := range cfg.Job.Exclude {
		if p = strings.TrimSpace(p); p != "" {
			exclude = append(exclude, p)
		}
	}
	cfg.Job.Exclude = exclude
}

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &ValidationError{Key: "server.port", Message: fmt.Sprintf("out of range: %d", c.Server.Port)}
	}

	switch c.Storage.Provider {
	case ProviderS3:
	case ProviderFile:
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return &ValidationError{Key: "storage.base_dir", Message: "required for the file provider"}
		}
	default:
		return &ValidationError{Key: "storage.provider", Message: fmt.Sprintf("unsupported provider %q", c.Storage.Provider)}
	}

	switch c.Progress.Backend {
	case BackendDynamoDB:
		if strings.TrimSpace(c.Progress.Table) == "" {
			return &ValidationError{Key: "progress.table", Message: "required for the dynamodb backend"}
		}
	case BackendSQLite:
	default:
		return &ValidationError{Key: "progress.backend", Message: fmt.Sprintf("unsupported backend %q", c.Progress.Backend)}
	}

	if strings.TrimSpace(c.Job.ScratchDir) == "" {
		return &ValidationError{Key: "job.scratch_dir", Message: "required"}
	}
	if c.Job.PartSize != 0 && c.Job.PartSize < minPartSize {
		return &ValidationError{Key: "job.part_size", Message: fmt.Sprintf("must be at least %d bytes", minPartSize)}
	}
	if c.Job.ListConcurrency < 1 || c.Job.ArchiveConcurrency < 1 || c.Job.UploadConcurrency < 1 {
		return &ValidationError{Key: "job", Message: "concurrency values must be >= 1"}
	}
	if c.Job.ListRateLimit < 0 {
		return &ValidationError{Key: "job.list_rate_limit", Message: "must be >= 0"}
	}
	return nil
}
