package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	App            AppConfig            `mapstructure:"app"`
	DB             DBConfig             `mapstructure:"db"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Hub            HubConfig            `mapstructure:"hub"`
	VerifyInvestor VerifyInvestorConfig `mapstructure:"verifyinvestor"`
	Finance        FinanceConfig        `mapstructure:"finance"`
	RealName       RealNameConfig       `mapstructure:"real_name"`
	SMTP           SMTPConfig           `mapstructure:"smtp"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// HubConfig points at the headless wallet bridge that holds our keys and
// relays node events.
type HubConfig struct {
	BridgeURL string `mapstructure:"bridge_url"`
}

type VerifyInvestorConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIToken  string `mapstructure:"api_token"`
	AuthToken string `mapstructure:"auth_token"`
}

// FinanceConfig sets prices and rewards in USD; the byte amounts are
// derived from the current exchange rate at quote time.
type FinanceConfig struct {
	PriceUSD          float64 `mapstructure:"price_usd"`
	RewardUSD         float64 `mapstructure:"reward_usd"`
	ReferralRewardUSD float64 `mapstructure:"referral_reward_usd"`
	PriceTimeoutSec   int64   `mapstructure:"price_timeout_sec"`
	MaxReferralDepth  int     `mapstructure:"max_referral_depth"`
	PostTimestamp     bool    `mapstructure:"post_timestamp"`
	RateURL           string  `mapstructure:"rate_url"`
}

// RealNameConfig controls whether users must reveal a real-name profile
// before authenticating with the provider, and which attestors we trust
// such profiles from.
type RealNameConfig struct {
	Required       bool     `mapstructure:"required"`
	Attestors      []string `mapstructure:"attestors"`
	RequiredFields []string `mapstructure:"required_fields"`
}

type SMTPConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	AdminEmail string `mapstructure:"admin_email"`
	FromEmail  string `mapstructure:"from_email"`
}

var Global Config

func Init() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "attestation_user")
	viper.SetDefault("db.password", "attestation_password")
	viper.SetDefault("db.name", "attestation_db")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.mq_type", "redis")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})

	viper.SetDefault("hub.bridge_url", "ws://localhost:6333")

	viper.SetDefault("verifyinvestor.base_url", "https://www.verifyinvestor.com")

	viper.SetDefault("finance.price_usd", 79.0)
	viper.SetDefault("finance.reward_usd", 79.0)
	viper.SetDefault("finance.referral_reward_usd", 20.0)
	viper.SetDefault("finance.price_timeout_sec", 86400)
	viper.SetDefault("finance.max_referral_depth", 10)
	viper.SetDefault("finance.post_timestamp", false)
	viper.SetDefault("finance.rate_url", "https://api.coinpaprika.com/v1/tickers/gbyte-obyte")

	viper.SetDefault("real_name.required", false)
	viper.SetDefault("real_name.required_fields", []string{"first_name", "last_name", "country"})

	viper.SetDefault("smtp.host", "")
	viper.SetDefault("smtp.port", 587)
}
