package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	OSS          OSSConfig          `mapstructure:"oss"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Extraction   ExtractionConfig   `mapstructure:"extraction"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Approval     ApprovalConfig     `mapstructure:"approval"`
	Worker       WorkerConfig       `mapstructure:"worker"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type ExtractionConfig struct {
	Provider      string          `mapstructure:"provider"` // gemini, openai
	APIKey        string          `mapstructure:"api_key"`
	Model         string          `mapstructure:"model"`
	BaseURL       string          `mapstructure:"base_url"` // 仅 openai 兼容接口使用
	Timeout       time.Duration   `mapstructure:"timeout"`
	MaxImageBytes int64           `mapstructure:"max_image_bytes"`
	CacheSize     int             `mapstructure:"cache_size"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Backend   string `mapstructure:"backend"` // memory, redis
	PerMinute int    `mapstructure:"per_minute"`
	PerDay    int    `mapstructure:"per_day"`
	Timezone  string `mapstructure:"timezone"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SubscriptionConfig struct {
	GrantDays int `mapstructure:"grant_days"`
}

type ApprovalConfig struct {
	RequirePending    bool          `mapstructure:"require_pending"`
	ReconcileLookback time.Duration `mapstructure:"reconcile_lookback"`
}

type WorkerConfig struct {
	ReconcileSchedule string `mapstructure:"reconcile_schedule"`
	ExpireSchedule    string `mapstructure:"expire_schedule"`
	ActivationQueue   string `mapstructure:"activation_queue"`
	MaxAttempts       int    `mapstructure:"max_attempts"`
	Concurrency       int    `mapstructure:"concurrency"`
}

// 默认值
const (
	DefaultMaxImageBytes     = 4 << 20
	DefaultPerMinute         = 10
	DefaultPerDay            = 100
	DefaultGrantDays         = 30
	DefaultExtractionTimeout = 30 * time.Second
)

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults 填充未配置项的默认值
func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Extraction.Provider == "" {
		c.Extraction.Provider = "gemini"
	}
	if c.Extraction.Timeout <= 0 {
		c.Extraction.Timeout = DefaultExtractionTimeout
	}
	if c.Extraction.MaxImageBytes <= 0 {
		c.Extraction.MaxImageBytes = DefaultMaxImageBytes
	}
	if c.Extraction.RateLimit.Backend == "" {
		c.Extraction.RateLimit.Backend = "memory"
	}
	if c.Extraction.RateLimit.PerMinute <= 0 {
		c.Extraction.RateLimit.PerMinute = DefaultPerMinute
	}
	if c.Extraction.RateLimit.PerDay <= 0 {
		c.Extraction.RateLimit.PerDay = DefaultPerDay
	}
	if c.Extraction.RateLimit.KeyPrefix == "" {
		c.Extraction.RateLimit.KeyPrefix = "ratelimit:extract"
	}
	if c.Subscription.GrantDays <= 0 {
		c.Subscription.GrantDays = DefaultGrantDays
	}
	if c.Approval.ReconcileLookback <= 0 {
		c.Approval.ReconcileLookback = 90 * 24 * time.Hour
	}
	if c.Worker.ReconcileSchedule == "" {
		c.Worker.ReconcileSchedule = "*/15 * * * *"
	}
	if c.Worker.ExpireSchedule == "" {
		c.Worker.ExpireSchedule = "5 0 * * *"
	}
	if c.Worker.ActivationQueue == "" {
		c.Worker.ActivationQueue = "billing:activation_retry"
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 5
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 1
	}
}

// Location 解析限流器使用的时区，非法或为空时使用本地时区
func (c RateLimitConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
