package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gmail    GmailConfig    `mapstructure:"gmail"`
	AI       AIConfig       `mapstructure:"ai"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Digest   string `mapstructure:"digest"`
	FollowUp string `mapstructure:"follow_up"`
}

type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

type AIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// BusinessConfig 调度与计费相关的业务参数
type BusinessConfig struct {
	FetchIntervalMinutes    int `mapstructure:"fetch_interval_minutes"`    // 拉信周期
	FollowUpIntervalMinutes int `mapstructure:"follow_up_interval_minutes"` // 跟进扫描周期
	DigestTickMinutes       int `mapstructure:"digest_tick_minutes"`       // 摘要调度周期
	DigestWindowMinutes     int `mapstructure:"digest_window_minutes"`     // 触发时刻之后的命中窗口
	DigestCooldownHours     int `mapstructure:"digest_cooldown_hours"`     // 两次派发之间的最小间隔
	ResetIntervalMinutes    int `mapstructure:"reset_interval_minutes"`    // 月度重置扫描周期
	ResetBatchSize          int `mapstructure:"reset_batch_size"`
	MaxRetryCount           int `mapstructure:"max_retry_count"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
