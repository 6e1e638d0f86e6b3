package config

import (
	"errors"
	"time"
)

// Config 应用配置根结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Mongo      MongoConfig      `mapstructure:"mongo"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Generation GenerationConfig `mapstructure:"generation"`
	TTS        TTSConfig        `mapstructure:"tts"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig 日志配置 (Zerolog)
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	TimeFormat string `mapstructure:"time_format"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	MinPoolSize uint64 `mapstructure:"min_pool_size"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`          // JWT密钥（用户侧只读接口）
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"` // Access Token过期时间
	CronSecret        string        `mapstructure:"cron_secret"`         // 调度器触发接口的共享密钥
	WebhookSecret     string        `mapstructure:"webhook_secret"`      // 生成服务回调的共享密钥
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type  string       `mapstructure:"type"` // local, oss
	Local *LocalConfig `mapstructure:"local,omitempty"`
	OSS   *OSSConfig   `mapstructure:"oss,omitempty"`
}

// LocalConfig 本地文件系统配置
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"` // 基础路径
	BaseURL  string `mapstructure:"base_url"`  // 基础URL（用于生成访问URL）
}

// OSSConfig 阿里云OSS配置
type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`          // OSS端点
	Bucket          string `mapstructure:"bucket"`            // Bucket名称
	AccessKeyID     string `mapstructure:"access_key_id"`     // AccessKey ID
	AccessKeySecret string `mapstructure:"access_key_secret"` // AccessKey Secret
}

// GenerationConfig 视频生成服务配置
type GenerationConfig struct {
	Provider    string `mapstructure:"provider"`     // fal, ark
	APIKey      string `mapstructure:"api_key"`      // 提供商 API Key
	BaseURL     string `mapstructure:"base_url"`     // API 基础 URL（可选）
	CallbackURL string `mapstructure:"callback_url"` // 完成回调地址（可选，空则只依赖轮询）
}

// TTSConfig 解说语音合成配置
type TTSConfig struct {
	APIURL      string `mapstructure:"api_url"`      // API 地址
	AccessToken string `mapstructure:"access_token"` // 访问令牌
	AppID       string `mapstructure:"app_id"`       // 应用ID（可选）
	Cluster     string `mapstructure:"cluster"`      // 集群名称
	SampleRate  int    `mapstructure:"sample_rate"`  // 采样率
}

// PipelineConfig 场景编排器配置
type PipelineConfig struct {
	BatchSize   int            `mapstructure:"batch_size"`   // 每次 sweep 最多处理的项目数
	MaxRetries  int            `mapstructure:"max_retries"`  // 单个场景的最大重试次数
	LockTTL     time.Duration  `mapstructure:"lock_ttl"`     // 分布式锁过期时间（须大于最长 sweep 时长）
	ModelCosts  map[string]int `mapstructure:"model_costs"`  // 按模型的单场景积分价格
	DefaultCost int            `mapstructure:"default_cost"` // 未配置模型的默认价格
}

// Validate 验证配置有效性
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[c.Server.Mode] {
		return errors.New("invalid server mode, must be debug/release/test")
	}

	if c.Pipeline.BatchSize <= 0 {
		return errors.New("pipeline batch_size must be positive")
	}
	if c.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline max_retries must not be negative")
	}
	if c.Pipeline.LockTTL <= 0 {
		return errors.New("pipeline lock_ttl must be positive")
	}

	return nil
}
