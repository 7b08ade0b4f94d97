package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Campus     CampusConfig     `yaml:"campus"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Models     ModelsConfig     `yaml:"models"`
	Prediction PredictionConfig `yaml:"prediction"`
	Training   TrainingConfig   `yaml:"training"`
	Retention  RetentionConfig  `yaml:"retention"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Messes     []MessSeed       `yaml:"messes"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	GinMode         string  `yaml:"gin_mode"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// CampusConfig holds the wall-clock settings meal windows are evaluated in.
type CampusConfig struct {
	Timezone string         `yaml:"timezone"`
	Location *time.Location `yaml:"-"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               string `yaml:"log_level"`
}

// ModelsConfig locates the trained model artifact store.
type ModelsConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// PredictionConfig tunes the /predict pipeline.
type PredictionConfig struct {
	MaxSlots               int `yaml:"max_slots"`
	FallbackSlots          int `yaml:"fallback_slots"`
	DefaultCapacity        int `yaml:"default_capacity"`
	ModelCacheMinutes      int `yaml:"model_cache_minutes"`
	BreakerFailures        int `yaml:"breaker_failures"`
	BreakerTimeoutSeconds  int `yaml:"breaker_timeout_seconds"`
	BreakerIntervalSeconds int `yaml:"breaker_interval_seconds"`
}

// TrainingConfig holds model training and auto-retraining settings.
type TrainingConfig struct {
	Enabled            bool    `yaml:"enabled"`
	LookbackDays       int     `yaml:"lookback_days"`
	MinRecords         int     `yaml:"min_records"`
	Epochs             int     `yaml:"epochs"`
	BatchSize          int     `yaml:"batch_size"`
	LearningRate       float64 `yaml:"learning_rate"`
	ValidationSplit    float64 `yaml:"validation_split"`
	Dropout            float64 `yaml:"dropout"`
	Hidden             []int   `yaml:"hidden"`
	Seed               int64   `yaml:"seed"`
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
	RetrainAfterDays   int     `yaml:"retrain_after_days"`
	CheckIntervalHours int     `yaml:"check_interval_hours"`
}

// RetentionConfig holds the periodic cleanup policy.
type RetentionConfig struct {
	Enabled               bool `yaml:"enabled"`
	IntervalHours         int  `yaml:"interval_hours"`
	QRCodeDays            int  `yaml:"qr_code_days"`
	AttendanceArchiveDays int  `yaml:"attendance_archive_days"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// MessSeed describes a dining hall that is upserted on startup.
type MessSeed struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Capacity     int    `yaml:"capacity"`
	ManagerName  string `yaml:"manager_name"`
	ManagerEmail string `yaml:"manager_email"`
}

// Load reads the configuration from the given path. A .env file in the
// working directory is loaded first so that env overrides can live there.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("could not load .env file: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, as if an
// empty file had been loaded.
func Default() *Config {
	var cfg Config
	// The only failure mode is an unknown timezone, which the empty config cannot hit.
	_ = cfg.applyDefaults()
	return &cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		} else {
			log.Printf("ignoring invalid PORT %q", v)
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 60
	}

	if cfg.Campus.Timezone == "" {
		cfg.Campus.Timezone = "Local"
	}
	loc, err := time.LoadLocation(cfg.Campus.Timezone)
	if err != nil {
		return err
	}
	cfg.Campus.Location = loc

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}

	if cfg.Models.Path == "" {
		cfg.Models.Path = "./data/models"
	}

	if cfg.Prediction.MaxSlots <= 0 {
		cfg.Prediction.MaxSlots = 8
	}
	if cfg.Prediction.FallbackSlots <= 0 {
		cfg.Prediction.FallbackSlots = 5
	}
	if cfg.Prediction.DefaultCapacity <= 0 {
		cfg.Prediction.DefaultCapacity = 100
	}
	if cfg.Prediction.ModelCacheMinutes <= 0 {
		cfg.Prediction.ModelCacheMinutes = 30
	}
	if cfg.Prediction.BreakerFailures <= 0 {
		cfg.Prediction.BreakerFailures = 5
	}
	if cfg.Prediction.BreakerTimeoutSeconds <= 0 {
		cfg.Prediction.BreakerTimeoutSeconds = 60
	}
	if cfg.Prediction.BreakerIntervalSeconds <= 0 {
		cfg.Prediction.BreakerIntervalSeconds = 120
	}

	if cfg.Training.LookbackDays <= 0 {
		cfg.Training.LookbackDays = 30
	}
	if cfg.Training.MinRecords <= 0 {
		cfg.Training.MinRecords = 5
	}
	if cfg.Training.Epochs <= 0 {
		cfg.Training.Epochs = 20
	}
	if cfg.Training.BatchSize <= 0 {
		cfg.Training.BatchSize = 4
	}
	if cfg.Training.LearningRate <= 0 {
		cfg.Training.LearningRate = 0.001
	}
	// Zero means "use the default"; a negative value disables the feature.
	cfg.Training.ValidationSplit = fraction("training.validation_split", cfg.Training.ValidationSplit, 0.2)
	cfg.Training.Dropout = fraction("training.dropout", cfg.Training.Dropout, 0.2)
	if len(cfg.Training.Hidden) == 0 {
		cfg.Training.Hidden = []int{32, 16, 8}
	}
	if cfg.Training.Seed == 0 {
		cfg.Training.Seed = 42
	}
	if cfg.Training.TimeoutSeconds <= 0 {
		cfg.Training.TimeoutSeconds = 300
	}
	if cfg.Training.RetrainAfterDays <= 0 {
		cfg.Training.RetrainAfterDays = 7
	}
	if cfg.Training.CheckIntervalHours <= 0 {
		cfg.Training.CheckIntervalHours = 24
	}

	if cfg.Retention.IntervalHours <= 0 {
		cfg.Retention.IntervalHours = 24 * 7
	}
	if cfg.Retention.QRCodeDays <= 0 {
		cfg.Retention.QRCodeDays = 7
	}
	if cfg.Retention.AttendanceArchiveDays <= 0 {
		cfg.Retention.AttendanceArchiveDays = 180
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	for i := range cfg.Messes {
		if cfg.Messes[i].Capacity <= 0 {
			cfg.Messes[i].Capacity = cfg.Prediction.DefaultCapacity
		}
	}
	return nil
}

func fraction(name string, v, def float64) float64 {
	switch {
	case v == 0:
		return def
	case v < 0:
		return 0
	case v >= 1:
		log.Printf("%s %.2f out of range; defaulting to %.2f", name, v, def)
		return def
	}
	return v
}

// CacheTTL is the response cache lifetime for GET endpoints.
func (s ServerConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

// CheckInterval is how often the auto-trainer looks for stale models.
func (t TrainingConfig) CheckInterval() time.Duration {
	return time.Duration(t.CheckIntervalHours) * time.Hour
}

// Timeout bounds a single training run.
func (t TrainingConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// Interval is the period between retention sweeps.
func (r RetentionConfig) Interval() time.Duration {
	return time.Duration(r.IntervalHours) * time.Hour
}
