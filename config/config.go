package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/webitel/cdr-exporter/internal/errors"
)

type AppConfig struct {
	File     string          `json:"-"`
	Consul   *ConsulConfig   `json:"consul,omitempty"`
	Redis    *RedisConfig    `json:"redis,omitempty"`
	Database *DatabaseConfig `json:"database,omitempty"`
	HTTP     *HTTPConfig     `json:"http,omitempty"`
	Export   *ExportConfig   `json:"export,omitempty"`
	Callback *CallbackConfig `json:"callback,omitempty"`
}

type ConsulConfig struct {
	Id            string `json:"id"`
	Address       string `json:"address"`
	PublicAddress string `json:"publicAddress"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

type DatabaseConfig struct {
	Url string `json:"url"`
}

type HTTPConfig struct {
	Addr        string   `json:"addr"`
	CORSOrigins []string `json:"corsOrigins"`
}

type ExportConfig struct {
	Workers int    `json:"workers"`
	Dir     string `json:"dir"`
	// DownloadPrefix is the internal location the reverse proxy serves Dir
	// under. Empty means the service streams artifacts itself.
	DownloadPrefix    string        `json:"downloadPrefix"`
	Retention         time.Duration `json:"retention"`
	RetentionSchedule string        `json:"retentionSchedule"`
}

type CallbackConfig struct {
	Method    string        `json:"method"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit float64       `json:"rateLimit"`
	Burst     int           `json:"burst"`
}

// RegisterFlags declares every option on fs. Each flag is also readable from
// the upper-cased environment variable of the same name.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config_file", "", "Configuration file in JSON format")

	// database
	fs.String("data_source", "", "Data source")

	// consul
	fs.String("id", "", "Service id")
	fs.String("consul", "", "Host to consul")
	fs.String("http_public_addr", "", "Public HTTP address with port registered in consul")

	// http
	fs.String("http_addr", ":8080", "HTTP listen address")
	fs.StringSlice("cors_origins", []string{"*"}, "Allowed CORS origins")

	// redis
	fs.String("redis_addr", "localhost:6379", "Redis address")
	fs.String("redis_password", "", "Redis password")
	fs.Int("redis_db", 0, "Redis DB number")
	fs.String("redis_queue", "cdr_exporter:tasks", "Redis list used as the task queue")

	// export
	fs.Int("workers", 5, "Number of concurrent export workers")
	fs.String("export_dir", "/tmp", "Directory export artifacts are written to")
	fs.String("download_prefix", "", "X-Accel-Redirect location of the export directory")
	fs.Duration("export_retention", 0, "Delete exports older than this, 0 keeps them forever")
	fs.String("retention_schedule", "@hourly", "Cron schedule of the retention sweep")

	// callback
	fs.String("callback_method", "POST", "HTTP method of export callbacks")
	fs.Duration("callback_timeout", 10*time.Second, "Callback request timeout")
	fs.Float64("callback_rate", 0, "Callback requests per second, 0 disables the limit")
	fs.Int("callback_burst", 1, "Callback rate limiter burst")
}

// LoadConfig reads fs, the environment and the optional config file.
// Only the database settings are validated here, see Validate.
func LoadConfig(fs *pflag.FlagSet) (*AppConfig, error) {
	if err := bindFlagsAndEnv(fs); err != nil {
		return nil, err
	}

	configFile := getConfigFilePath()
	if configFile != "" {
		if err := loadFromFile(configFile); err != nil {
			return nil, err
		}
	}

	cfg := buildAppConfig(configFile)
	if cfg.Database.Url == "" {
		return nil, errors.New("Data source is required")
	}
	return cfg, nil
}

func bindFlagsAndEnv(fs *pflag.FlagSet) error {
	if err := viper.BindPFlags(fs); err != nil {
		return errors.New("could not bind flags", errors.WithCause(err))
	}
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Explicit mapping
	_ = viper.BindEnv("id", "CONSUL_ID")
	_ = viper.BindEnv("consul", "CONSUL_HOST")
	_ = viper.BindEnv("http_public_addr", "HTTP_PUBLIC_ADDR")
	_ = viper.BindEnv("data_source", "DATA_SOURCE")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis_db", "REDIS_DB")
	_ = viper.BindEnv("export_dir", "EXPORT_DIR")
	return nil
}

func getConfigFilePath() string {
	file := viper.GetString("config_file")
	if file == "" {
		file = os.Getenv("CDR_EXPORTER_CONFIG_FILE")
	}
	return file
}

func loadFromFile(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("json")
	if err := viper.ReadInConfig(); err != nil {
		return errors.New(fmt.Sprintf("could not load config file: %s", err.Error()))
	}
	return nil
}

func buildAppConfig(file string) *AppConfig {
	return &AppConfig{
		File:     file,
		Database: &DatabaseConfig{Url: viper.GetString("data_source")},
		HTTP: &HTTPConfig{
			Addr:        viper.GetString("http_addr"),
			CORSOrigins: viper.GetStringSlice("cors_origins"),
		},
		Export: &ExportConfig{
			Workers:           viper.GetInt("workers"),
			Dir:               viper.GetString("export_dir"),
			DownloadPrefix:    viper.GetString("download_prefix"),
			Retention:         viper.GetDuration("export_retention"),
			RetentionSchedule: viper.GetString("retention_schedule"),
		},
		Callback: &CallbackConfig{
			Method:    strings.ToUpper(viper.GetString("callback_method")),
			Timeout:   viper.GetDuration("callback_timeout"),
			RateLimit: viper.GetFloat64("callback_rate"),
			Burst:     viper.GetInt("callback_burst"),
		},
		Consul: &ConsulConfig{
			Id:            viper.GetString("id"),
			Address:       viper.GetString("consul"),
			PublicAddress: viper.GetString("http_public_addr"),
		},
		Redis: &RedisConfig{
			Addr:     viper.GetString("redis_addr"),
			Password: viper.GetString("redis_password"),
			DB:       viper.GetInt("redis_db"),
			Queue:    viper.GetString("redis_queue"),
		},
	}
}

// Validate checks the options the serve command needs.
func (cfg *AppConfig) Validate() error {
	if cfg.Database.Url == "" {
		return errors.New("Data source is required")
	}
	if cfg.Consul.Id == "" {
		return errors.New("Service id is required")
	}
	if cfg.Consul.Address == "" {
		return errors.New("Consul address is required")
	}
	if cfg.Consul.PublicAddress == "" {
		return errors.New("Public HTTP address is required")
	}
	if cfg.Redis.Addr == "" {
		return errors.New("Redis address is required")
	}
	if cfg.Redis.Queue == "" {
		return errors.New("Redis queue name is required")
	}
	if cfg.Export.Dir == "" {
		return errors.New("Export directory is required")
	}
	if cfg.Export.Retention < 0 {
		return errors.New("Export retention can't be negative")
	}
	if cfg.Callback.Timeout <= 0 {
		return errors.New("Callback timeout must be positive")
	}
	if cfg.Callback.Method == "" {
		return errors.New("Callback method is required")
	}
	return nil
}
