package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置（仅用于读取阈值档案，连接池保持很小）
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int // 0 表示使用 go-redis 默认值
	MinIdleConns int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// DefaultDatabaseConfig 本地开发默认值
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "attention",
		SSLMode:         "disable",
		MaxConns:        5,
		MaxIdle:         2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// DefaultRedisConfig 本地开发默认值
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     20,
		MinIdleConns: 2,
	}
}

// DefaultMQTTConfig 本地开发默认值
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "attention-monitor",
		QoS:      1,
	}
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// GetDSNForLog 获取不含密码的连接字符串（用于日志）
func (c *DatabaseConfig) GetDSNForLog() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=*** dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Database, c.SSLMode)
}

// LoadFromEnv 从环境变量加载配置，未设置的字段保持原值
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	if host := os.Getenv(prefix + "_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv(prefix + "_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			c.Port = v
		}
	}
	if user := os.Getenv(prefix + "_USER"); user != "" {
		c.User = user
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if database := os.Getenv(prefix + "_NAME"); database != "" {
		c.Database = database
	}
	if sslMode := os.Getenv(prefix + "_SSLMODE"); sslMode != "" {
		c.SSLMode = sslMode
	}
	if maxConns := os.Getenv(prefix + "_MAX_CONNS"); maxConns != "" {
		if v, err := strconv.Atoi(maxConns); err == nil {
			c.MaxConns = v
		}
	}
	if maxIdle := os.Getenv(prefix + "_MAX_IDLE"); maxIdle != "" {
		if v, err := strconv.Atoi(maxIdle); err == nil {
			c.MaxIdle = v
		}
	}
	if lifetime := os.Getenv(prefix + "_CONN_MAX_LIFETIME_SEC"); lifetime != "" {
		if v, err := strconv.Atoi(lifetime); err == nil {
			c.ConnMaxLifetime = time.Duration(v) * time.Second
		}
	}
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	if addr := os.Getenv(prefix + "_ADDR"); addr != "" {
		c.Addr = addr
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if db := os.Getenv(prefix + "_DB"); db != "" {
		if v, err := strconv.Atoi(db); err == nil {
			c.DB = v
		}
	}
	if poolSize := os.Getenv(prefix + "_POOL_SIZE"); poolSize != "" {
		if v, err := strconv.Atoi(poolSize); err == nil {
			c.PoolSize = v
		}
	}
	if minIdle := os.Getenv(prefix + "_MIN_IDLE"); minIdle != "" {
		if v, err := strconv.Atoi(minIdle); err == nil {
			c.MinIdleConns = v
		}
	}
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	if broker := os.Getenv(prefix + "_BROKER"); broker != "" {
		c.Broker = broker
	}
	if clientID := os.Getenv(prefix + "_CLIENT_ID"); clientID != "" {
		c.ClientID = clientID
	}
	if username := os.Getenv(prefix + "_USERNAME"); username != "" {
		c.Username = username
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if qos := os.Getenv(prefix + "_QOS"); qos != "" {
		if v, err := strconv.Atoi(qos); err == nil && v >= 0 && v <= 2 {
			c.QoS = byte(v)
		}
	}
}
