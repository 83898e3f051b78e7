package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port         string `mapstructure:"port"`
		Env          string `mapstructure:"env"`
		ReadTimeout  int    `mapstructure:"readTimeout"`
		WriteTimeout int    `mapstructure:"writeTimeout"`
	} `mapstructure:"app"`
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
	} `mapstructure:"kafka"`
	Gateway struct {
		BaseURL   string `mapstructure:"baseUrl"`
		ServerKey string `mapstructure:"serverKey"`
		ClientKey string `mapstructure:"clientKey"`
		FinishURL string `mapstructure:"finishUrl"`
		NotifyURL string `mapstructure:"notifyUrl"`
	} `mapstructure:"gateway"`
	Billing struct {
		Currency        string `mapstructure:"currency"`
		GraceDays       int    `mapstructure:"graceDays"`
		PendingTTLHours int    `mapstructure:"pendingTtlHours"`
		WarnThresholds  []int  `mapstructure:"warnThresholds"`
		Trial           struct {
			MaxInstances        int `mapstructure:"maxInstances"`
			MaxMessagesPerDay   int `mapstructure:"maxMessagesPerDay"`
			MaxMessagesPerMonth int `mapstructure:"maxMessagesPerMonth"`
			MaxExternalDevices  int `mapstructure:"maxExternalDevices"`
		} `mapstructure:"trial"`
	} `mapstructure:"billing"`
}

// LoadConfig загружает конфигурацию из файла или переменных окружения.
func LoadConfig(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		// .env не обязателен, переменные могут прийти из окружения
		_ = godotenv.Load(path)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv() // Чтение переменных окружения

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults подставляет значения по умолчанию для необязательных параметров.
func (c *Config) applyDefaults() {
	if c.App.Port == "" {
		c.App.Port = "8080"
	}
	if c.App.ReadTimeout == 0 {
		c.App.ReadTimeout = 10
	}
	if c.App.WriteTimeout == 0 {
		c.App.WriteTimeout = 10
	}
	if c.Billing.Currency == "" {
		c.Billing.Currency = "IDR"
	}
	if c.Billing.GraceDays == 0 {
		c.Billing.GraceDays = 7
	}
	if c.Billing.PendingTTLHours == 0 {
		c.Billing.PendingTTLHours = 24
	}
	if len(c.Billing.WarnThresholds) == 0 {
		c.Billing.WarnThresholds = []int{7, 3, 1}
	}
	if c.Billing.Trial.MaxInstances == 0 {
		c.Billing.Trial.MaxInstances = 1
	}
	if c.Billing.Trial.MaxMessagesPerDay == 0 {
		c.Billing.Trial.MaxMessagesPerDay = 50
	}
	if c.Billing.Trial.MaxMessagesPerMonth == 0 {
		c.Billing.Trial.MaxMessagesPerMonth = 500
	}
	if c.Billing.Trial.MaxExternalDevices == 0 {
		c.Billing.Trial.MaxExternalDevices = 1
	}
}
