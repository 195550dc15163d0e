package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"attention-monitor/internal/classifier"
	"attention-monitor/pkg/config"

	"github.com/joho/godotenv"
)

// Config 注意力监测服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	HTTP struct {
		Addr string // 查询/指标接口监听地址，如 ":8090"
	}

	// 注意力服务特定配置
	Attention struct {
		Thresholds classifier.ThresholdConfig

		// 特征提取端的采样频率（部署约定，仅用于日志与文档，分类器不读取）
		AssumedFPS float64

		// 数据库阈值档案 ID；为空时使用环境变量阈值
		ProfileID string

		// 会话空闲多久后回收（无任何样本）
		SessionIdleTimeout time.Duration

		Stream struct {
			Input         string // 特征输入 Stream
			Output        string // 状态事件输出 Stream
			ConsumerGroup string
			ConsumerName  string
			BatchSize     int64
			Block         time.Duration
		}

		Cache struct {
			StatusKeyPrefix string        // 当前状态缓存键前缀，如 "attention:participant:"
			StatusSuffix    string        // 当前状态缓存键后缀，如 ":status"
			StatusTTL       time.Duration // 当前状态 TTL
			StateKeyPrefix  string        // 分类器快照键前缀，如 "attention:state:"
			StateTTL        time.Duration // 分类器快照 TTL
		}

		Topics struct {
			Features string // 特征订阅主题，如 "attention/+/features"
			Status   string // 状态发布主题格式，如 "attention/%s/status"
		}

		MQTTEnabled bool
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（.env 文件可选，环境变量优先）
func Load() (*Config, error) {
	// .env 不存在时直接使用系统环境变量
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Database = config.DefaultDatabaseConfig()
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.DefaultRedisConfig()
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.DefaultMQTTConfig()
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	// 阈值（默认值随部署调整）
	def := classifier.DefaultThresholdConfig()
	th := &cfg.Attention.Thresholds
	th.EyeClosedThreshold = getEnvFloat("ATTENTION_EYE_CLOSED", def.EyeClosedThreshold)
	th.EyeOpenThreshold = getEnvFloat("ATTENTION_EYE_OPEN", def.EyeOpenThreshold)
	th.DrowsyFrameCount = getEnvInt("ATTENTION_DROWSY_FRAMES", def.DrowsyFrameCount)
	th.YawExtremeDegrees = getEnvFloat("ATTENTION_YAW_EXTREME", def.YawExtremeDegrees)
	th.YawModerateDegrees = getEnvFloat("ATTENTION_YAW_MODERATE", def.YawModerateDegrees)
	th.PitchDownDegrees = getEnvFloat("ATTENTION_PITCH_DOWN", def.PitchDownDegrees)
	th.PitchUpDegrees = getEnvFloat("ATTENTION_PITCH_UP", def.PitchUpDegrees)
	th.LookingAwayFrameCount = getEnvInt("ATTENTION_LOOKING_AWAY_FRAMES", def.LookingAwayFrameCount)
	th.AttentiveFrameCount = getEnvInt("ATTENTION_ATTENTIVE_FRAMES", def.AttentiveFrameCount)

	cfg.Attention.AssumedFPS = getEnvFloat("ATTENTION_ASSUMED_FPS", 3)
	cfg.Attention.ProfileID = getEnv("ATTENTION_PROFILE_ID", "")
	cfg.Attention.SessionIdleTimeout = time.Duration(getEnvInt("ATTENTION_SESSION_IDLE_SEC", 300)) * time.Second

	cfg.Attention.Stream.Input = getEnv("ATTENTION_STREAM_INPUT", "attention:features:stream")
	cfg.Attention.Stream.Output = getEnv("ATTENTION_STREAM_OUTPUT", "attention:status:stream")
	cfg.Attention.Stream.ConsumerGroup = getEnv("ATTENTION_CONSUMER_GROUP", "attention-classifier")
	cfg.Attention.Stream.ConsumerName = getEnv("ATTENTION_CONSUMER_NAME", "attention-classifier-1")
	cfg.Attention.Stream.BatchSize = int64(getEnvInt("ATTENTION_BATCH_SIZE", 50))
	cfg.Attention.Stream.Block = 5 * time.Second

	cfg.Attention.Cache.StatusKeyPrefix = getEnv("CACHE_STATUS_PREFIX", "attention:participant:")
	cfg.Attention.Cache.StatusSuffix = ":status"
	cfg.Attention.Cache.StatusTTL = time.Duration(getEnvInt("CACHE_STATUS_TTL_SEC", 3600)) * time.Second
	cfg.Attention.Cache.StateKeyPrefix = getEnv("CACHE_STATE_PREFIX", "attention:state:")
	cfg.Attention.Cache.StateTTL = time.Duration(getEnvInt("CACHE_STATE_TTL_SEC", 600)) * time.Second

	cfg.Attention.Topics.Features = getEnv("MQTT_TOPIC_FEATURES", "attention/+/features")
	cfg.Attention.Topics.Status = getEnv("MQTT_TOPIC_STATUS", "attention/%s/status")
	cfg.Attention.MQTTEnabled = getEnvBool("MQTT_ENABLED", false)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 启动时校验配置
func (c *Config) Validate() error {
	if err := c.Attention.Thresholds.Validate(); err != nil {
		return fmt.Errorf("attention thresholds: %w", err)
	}
	if c.Attention.Stream.BatchSize <= 0 {
		return fmt.Errorf("ATTENTION_BATCH_SIZE must be positive, got %d", c.Attention.Stream.BatchSize)
	}
	if c.Attention.AssumedFPS <= 0 {
		return fmt.Errorf("ATTENTION_ASSUMED_FPS must be positive, got %v", c.Attention.AssumedFPS)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}
