package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"rentpredict/ml"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "RENT_"

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Model    ModelConfig    `yaml:"model"`
	Training TrainingConfig `yaml:"training"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// LogConfig selects level and encoding. File enables rotated file output in
// addition to stderr.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type ModelConfig struct {
	Path      string `yaml:"path"`
	CacheSize int    `yaml:"cache_size"`
}

type TrainingConfig struct {
	DataPath      string            `yaml:"data_path"`
	DBPath        string            `yaml:"db_path"`
	MinSize       float64           `yaml:"min_size"`
	TopLocalities int               `yaml:"top_localities"`
	Boosting      ml.BoostingParams `yaml:"boosting"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			AllowedOrigins:  []string{"*"},
			MaxBodyBytes:    1 << 20,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Model: ModelConfig{
			Path:      "models/rent_pipeline.json",
			CacheSize: 1024,
		},
		Training: TrainingConfig{
			DataPath:      "data/House_Rent_Dataset.csv",
			DBPath:        "data/training_runs.db",
			MinSize:       ml.DefaultMinSize,
			TopLocalities: ml.DefaultTopLocalities,
			Boosting:      ml.DefaultBoostingParams(),
		},
	}
}

// Load layers defaults, the YAML file at path, a .env file in the working
// directory and RENT_* environment variables, in that order. An empty path
// skips the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = n
	}
	duration := func(key string, dst *time.Duration) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = d
	}

	integer("HTTP_PORT", &c.HTTP.Port)
	duration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	duration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	if v, ok := lookup(EnvPrefix + "HTTP_ALLOWED_ORIGINS"); ok && v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_FILE", &c.Log.File)
	str("MODEL_PATH", &c.Model.Path)
	integer("MODEL_CACHE_SIZE", &c.Model.CacheSize)
	str("DATA_PATH", &c.Training.DataPath)
	str("DB_PATH", &c.Training.DBPath)
	integer("TOP_LOCALITIES", &c.Training.TopLocalities)

	return errors.Join(errs...)
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q not console or json", c.Log.Format))
	}
	if c.Model.Path == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	if c.Model.CacheSize < 0 {
		errs = append(errs, errors.New("model.cache_size must not be negative"))
	}
	if c.Training.TopLocalities < 0 {
		errs = append(errs, errors.New("training.top_localities must not be negative"))
	}
	if c.Training.MinSize < 0 {
		errs = append(errs, errors.New("training.min_size must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// TrainOptions maps the training section onto ml.TrainOptions.
func (c *Config) TrainOptions() ml.TrainOptions {
	return ml.TrainOptions{
		MinSize:       c.Training.MinSize,
		TopLocalities: c.Training.TopLocalities,
		Boosting:      c.Training.Boosting,
	}
}

func (c HTTPConfig) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
