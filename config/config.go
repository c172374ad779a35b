package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend selects the preprocessing codec backend.
type Backend string

const (
	BackendStd  Backend = "std"
	BackendVips Backend = "vips"
)

// ProviderKind selects a provider adapter.
type ProviderKind string

const (
	ProviderHTTP  ProviderKind = "http"
	ProviderLocal ProviderKind = "local"
	ProviderS3    ProviderKind = "s3"
)

// Config is the top-level configuration.  Default() yields a working
// in-memory setup; a provider list is the only thing a caller must add.
type Config struct {
	// Worker pool controls for Uploader.Submit.
	WorkerCount int           `yaml:"worker_count"` // default: runtime.NumCPU()
	QueueSize   int           `yaml:"queue_size"`
	JobTimeout  time.Duration `yaml:"job_timeout"`

	// BatchConcurrency bounds Uploader.Batch.
	BatchConcurrency int `yaml:"batch_concurrency"`

	Backend    Backend          `yaml:"backend"`
	Preprocess PreprocessConfig `yaml:"preprocess"`
	Crop       CropConfig       `yaml:"crop"`
	Upload     UploadConfig     `yaml:"upload"`
	Providers  []ProviderConfig `yaml:"providers"`
	Health     HealthConfig     `yaml:"health"`
	Records    RecordsConfig    `yaml:"records"`

	LogLevel    string `yaml:"log_level"` // "debug", "info", "warn", "error"
	MetricsAddr string `yaml:"metrics_addr"`
}

// PreprocessConfig bounds the preprocessed output.  Qualities are 0..1.
type PreprocessConfig struct {
	MaxWidth       int     `yaml:"max_width"`
	MaxHeight      int     `yaml:"max_height"`
	InitialQuality float64 `yaml:"initial_quality"`
	QualityFloor   float64 `yaml:"quality_floor"`
	QualityStep    float64 `yaml:"quality_step"`
	SizeCapBytes   int64   `yaml:"size_cap_bytes"`
	MaxInputBytes  int64   `yaml:"max_input_bytes"`
}

// CropConfig bounds crop render surfaces.
type CropConfig struct {
	MaxSurfaceSide   int   `yaml:"max_surface_side"`
	MaxSurfacePixels int64 `yaml:"max_surface_pixels"`
}

// UploadConfig drives the fallback orchestrator.
type UploadConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
}

// ProviderConfig declares one upload provider.  Declaration order is the
// ranking tie-break and the degraded-mode order.
type ProviderConfig struct {
	Name string       `yaml:"name"`
	Kind ProviderKind `yaml:"kind"`

	// http: multipart POST to Endpoint.  URLPath is a dot path into a JSON
	// response ("data.url"); empty means the body is the URL itself.
	Endpoint  string            `yaml:"endpoint"`
	FileField string            `yaml:"file_field"`
	Fields    map[string]string `yaml:"fields"`
	Headers   map[string]string `yaml:"headers"`
	URLPath   string            `yaml:"url_path"`
	RateLimit float64           `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int               `yaml:"burst"`

	// local
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url"`

	// s3 (Endpoint doubles as the S3-compatible endpoint)
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	PublicURL       string `yaml:"public_url"`
}

// HealthConfig selects the provider health store.
type HealthConfig struct {
	Store     string `yaml:"store"` // memory | redis
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RecordsConfig selects the image record store.
type RecordsConfig struct {
	Store       string `yaml:"store"` // memory | postgres
	DatabaseURL string `yaml:"database_url"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// Default returns a Config populated with production defaults.
func Default() Config {
	return Config{
		WorkerCount:      0, // resolved at runtime to NumCPU
		QueueSize:        256,
		JobTimeout:       5 * time.Minute,
		BatchConcurrency: 4,
		Backend:          BackendStd,
		Preprocess: PreprocessConfig{
			MaxWidth:       1920,
			MaxHeight:      1080,
			InitialQuality: 0.85,
			QualityFloor:   0.3,
			QualityStep:    0.1,
			SizeCapBytes:   10 << 20,
			MaxInputBytes:  32 << 20,
		},
		Crop: CropConfig{
			MaxSurfaceSide:   16384,
			MaxSurfacePixels: 268_435_456,
		},
		Upload: UploadConfig{
			MaxRetries:      2,
			BackoffBase:     time.Second,
			MaxBackoff:      10 * time.Minute,
			ProviderTimeout: 30 * time.Second,
		},
		Health:   HealthConfig{Store: "memory"},
		Records:  RecordsConfig{Store: "memory"},
		LogLevel: "info",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	var errs []error
	p := c.Preprocess
	if p.MaxWidth <= 0 || p.MaxHeight <= 0 {
		errs = append(errs, errors.New("config: preprocess max dimensions must be positive"))
	}
	if p.InitialQuality <= 0 || p.InitialQuality > 1 {
		errs = append(errs, errors.New("config: preprocess initial_quality must be in (0, 1]"))
	}
	if p.QualityFloor <= 0 || p.QualityFloor > p.InitialQuality {
		errs = append(errs, errors.New("config: preprocess quality_floor must be in (0, initial_quality]"))
	}
	if p.QualityStep <= 0 {
		errs = append(errs, errors.New("config: preprocess quality_step must be positive"))
	}
	if c.Upload.MaxRetries < 0 {
		errs = append(errs, errors.New("config: upload max_retries must not be negative"))
	}
	if c.Upload.BackoffBase < 0 || c.Upload.MaxBackoff < 0 || c.Upload.ProviderTimeout < 0 {
		errs = append(errs, errors.New("config: upload durations must not be negative"))
	}
	switch c.Backend {
	case BackendStd, BackendVips:
	default:
		errs = append(errs, fmt.Errorf("config: unknown backend %q", c.Backend))
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, pc := range c.Providers {
		if pc.Name == "" {
			errs = append(errs, fmt.Errorf("config: providers[%d] has no name", i))
			continue
		}
		if seen[pc.Name] {
			errs = append(errs, fmt.Errorf("config: duplicate provider %q", pc.Name))
		}
		seen[pc.Name] = true
		switch pc.Kind {
		case ProviderHTTP:
			if pc.Endpoint == "" {
				errs = append(errs, fmt.Errorf("config: provider %q needs an endpoint", pc.Name))
			}
		case ProviderLocal:
			if pc.Dir == "" {
				errs = append(errs, fmt.Errorf("config: provider %q needs a dir", pc.Name))
			}
		case ProviderS3:
			if pc.Bucket == "" {
				errs = append(errs, fmt.Errorf("config: provider %q needs a bucket", pc.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("config: provider %q has unknown kind %q", pc.Name, pc.Kind))
		}
	}

	switch c.Health.Store {
	case "memory":
	case "redis":
		if c.Health.RedisURL == "" {
			errs = append(errs, errors.New("config: health redis_url is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown health store %q", c.Health.Store))
	}
	switch c.Records.Store {
	case "memory":
	case "postgres":
		if c.Records.DatabaseURL == "" {
			errs = append(errs, errors.New("config: records database_url is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown record store %q", c.Records.Store))
	}
	return errors.Join(errs...)
}

// Load builds a Config from Default(), the YAML file at path (optional) and
// UPLOADER_* environment variables, in that order of precedence.  A .env
// file in the working directory is loaded first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

func applyEnv(c *Config) error {
	var err error
	if v := getEnv("UPLOADER_BACKEND", ""); v != "" {
		c.Backend = Backend(strings.ToLower(v))
	}
	if c.Upload.MaxRetries, err = parseIntEnv("UPLOADER_MAX_RETRIES", c.Upload.MaxRetries); err != nil {
		return err
	}
	if c.Upload.BackoffBase, err = parseDurationEnv("UPLOADER_BACKOFF_BASE", c.Upload.BackoffBase); err != nil {
		return err
	}
	if c.Upload.ProviderTimeout, err = parseDurationEnv("UPLOADER_PROVIDER_TIMEOUT", c.Upload.ProviderTimeout); err != nil {
		return err
	}
	if c.WorkerCount, err = parseIntEnv("UPLOADER_WORKERS", c.WorkerCount); err != nil {
		return err
	}
	c.Health.Store = getEnv("UPLOADER_HEALTH_STORE", c.Health.Store)
	c.Health.RedisURL = getEnv("UPLOADER_REDIS_URL", c.Health.RedisURL)
	c.Records.Store = getEnv("UPLOADER_RECORD_STORE", c.Records.Store)
	c.Records.DatabaseURL = getEnv("UPLOADER_DATABASE_URL", c.Records.DatabaseURL)
	c.LogLevel = getEnv("UPLOADER_LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = getEnv("UPLOADER_METRICS_ADDR", c.MetricsAddr)
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func parseIntEnv(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
