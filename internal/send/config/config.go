// Package config loads the walletsend runtime configuration from YAML files,
// .env files and WALLETSEND_* environment variables.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "WALLETSEND"

// Config is the walletsend runtime configuration
type Config struct {
	Environment string         `yaml:"environment" json:"environment" mapstructure:"environment" validate:"required,oneof=development staging production"`
	Development bool           `yaml:"development" json:"development" mapstructure:"development"`
	Log         LogConfig      `yaml:"log" json:"log" mapstructure:"log"`
	Pipeline    PipelineConfig `yaml:"pipeline" json:"pipeline" mapstructure:"pipeline"`
	Redis       RedisConfig    `yaml:"redis" json:"redis" mapstructure:"redis"`
	Kafka       KafkaConfig    `yaml:"kafka" json:"kafka" mapstructure:"kafka"`
	Webhook     WebhookConfig  `yaml:"webhook" json:"webhook" mapstructure:"webhook"`
	EVM         EVMConfig      `yaml:"evm" json:"evm" mapstructure:"evm"`
	Server      ServerConfig   `yaml:"server" json:"server" mapstructure:"server"`
	Tracing     TracingConfig  `yaml:"tracing" json:"tracing" mapstructure:"tracing"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level" mapstructure:"level" validate:"oneof=debug info warn warning error"`
}

// PipelineConfig tunes the transaction orchestrators
type PipelineConfig struct {
	PollInterval           time.Duration `yaml:"poll_interval" json:"poll_interval" mapstructure:"poll_interval" validate:"min=100ms"`
	RelevanceWindow        time.Duration `yaml:"relevance_window" json:"relevance_window" mapstructure:"relevance_window" validate:"min=1s"`
	ReduceAmountMultiplier int64         `yaml:"reduce_amount_multiplier" json:"reduce_amount_multiplier" mapstructure:"reduce_amount_multiplier" validate:"gte=1,lte=10"`
	FiatDecimals           int32         `yaml:"fiat_decimals" json:"fiat_decimals" mapstructure:"fiat_decimals" validate:"gte=0,lte=8"`
	ApprovePolicy          string        `yaml:"approve_policy" json:"approve_policy" mapstructure:"approve_policy" validate:"oneof=unlimited exact"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Address  string        `yaml:"address" json:"address" mapstructure:"address" validate:"required_if=Enabled true"`
	Password string        `yaml:"password" json:"-" mapstructure:"password"`
	DB       int           `yaml:"db" json:"db" mapstructure:"db" validate:"gte=0,lte=15"`
	FeeTTL   time.Duration `yaml:"fee_ttl" json:"fee_ttl" mapstructure:"fee_ttl"`
	Stream   string        `yaml:"stream" json:"stream" mapstructure:"stream"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Brokers []string `yaml:"brokers" json:"brokers" mapstructure:"brokers" validate:"required_if=Enabled true,dive,hostname_port"`
	Topic   string   `yaml:"topic" json:"topic" mapstructure:"topic" validate:"required"`
}

type WebhookConfig struct {
	URL     string        `yaml:"url" json:"url" mapstructure:"url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
}

// EVMConfig enables the on-chain allowance provider
type EVMConfig struct {
	RPCURL        string `yaml:"rpc_url" json:"rpc_url" mapstructure:"rpc_url" validate:"omitempty,url"`
	Owner         string `yaml:"owner" json:"owner" mapstructure:"owner" validate:"required_with=RPCURL,omitempty,eth_addr"`
	TokenContract string `yaml:"token_contract" json:"token_contract" mapstructure:"token_contract" validate:"required_with=RPCURL,omitempty,eth_addr"`
	TokenDecimals int32  `yaml:"token_decimals" json:"token_decimals" mapstructure:"token_decimals" validate:"gte=0,lte=36"`
}

type ServerConfig struct {
	Address         string        `yaml:"address" json:"address" mapstructure:"address" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type TracingConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Service string `yaml:"service" json:"service" mapstructure:"service"`
	Pretty  bool   `yaml:"pretty" json:"pretty" mapstructure:"pretty"`
}

var defaultPaths = []string{
	"./walletsend.yaml",
	"./configs/walletsend.yaml",
	"/etc/walletsend/walletsend.yaml",
}

// Loader reads and re-reads the configuration
type Loader struct {
	mu        sync.RWMutex
	validator *validator.Validate
	log       *zap.Logger
	paths     []string
	config    *Config
}

// NewLoader creates a loader over the given YAML files, or the default locations
func NewLoader(log *zap.Logger, paths ...string) *Loader {
	if len(paths) == 0 {
		paths = defaultPaths
	}
	return &Loader{
		validator: validator.New(),
		log:       log.Named("config"),
		paths:     paths,
	}
}

// Load reads the configuration once
func Load(log *zap.Logger, paths ...string) (*Config, error) {
	return NewLoader(log, paths...).Load()
}

// Load reads every source, validates the result and keeps it as current
func (l *Loader) Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		l.log.Debug("no .env file loaded", zap.Error(err))
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var loaded []string
	for _, path := range l.paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		loaded = append(loaded, path)
	}
	if len(loaded) == 0 {
		l.log.Warn("no configuration files found, using defaults and environment variables")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.validate(&cfg); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = &cfg
	l.mu.Unlock()

	l.log.Info("configuration loaded",
		zap.Strings("files", loaded),
		zap.String("environment", cfg.Environment))
	return &cfg, nil
}

// Current returns the last successfully loaded configuration
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Watch reloads the configuration whenever a loaded file changes and hands
// every valid result to fn. It blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	watched := 0
	for _, path := range l.paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := watcher.Add(path); err != nil {
			l.log.Warn("failed to watch config file", zap.String("path", path), zap.Error(err))
			continue
		}
		watched++
	}
	if watched == 0 {
		l.log.Info("no config files to watch, hot reload disabled")
		<-ctx.Done()
		return nil
	}

	debounce := time.NewTimer(0)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				l.log.Debug("config file changed",
					zap.String("file", event.Name),
					zap.String("operation", event.Op.String()))
				debounce.Reset(200 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Error("file watcher error", zap.Error(err))
		case <-debounce.C:
			cfg, err := l.Load()
			if err != nil {
				l.log.Error("failed to reload configuration, keeping the previous one", zap.Error(err))
				continue
			}
			fn(cfg)
		}
	}
}

func (l *Loader) validate(cfg *Config) error {
	if err := l.validator.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if cfg.Environment == "production" && cfg.Development {
		return fmt.Errorf("development mode can not be enabled in production")
	}
	if cfg.Pipeline.RelevanceWindow <= cfg.Pipeline.PollInterval {
		return fmt.Errorf("pipeline.relevance_window must be longer than pipeline.poll_interval")
	}
	if cfg.Redis.Enabled && cfg.Redis.FeeTTL >= cfg.Pipeline.RelevanceWindow {
		return fmt.Errorf("redis.fee_ttl must be shorter than pipeline.relevance_window")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("development", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("pipeline.poll_interval", 5*time.Second)
	v.SetDefault("pipeline.relevance_window", time.Minute)
	v.SetDefault("pipeline.reduce_amount_multiplier", 3)
	v.SetDefault("pipeline.fiat_decimals", 2)
	v.SetDefault("pipeline.approve_policy", "unlimited")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.fee_ttl", 15*time.Second)
	v.SetDefault("redis.stream", "walletsend.events")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "walletsend.transactions")

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.timeout", 5*time.Second)

	v.SetDefault("evm.rpc_url", "")
	v.SetDefault("evm.owner", "")
	v.SetDefault("evm.token_contract", "")
	v.SetDefault("evm.token_decimals", 18)

	v.SetDefault("server.address", ":8090")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service", "walletsend")
	v.SetDefault("tracing.pretty", false)
}
