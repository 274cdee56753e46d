package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`

	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	Retriever struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"retriever"`

	Generator struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"generator"`

	Engine struct {
		GroundingTopK  int `mapstructure:"grounding_top_k"`
		CaseLawTopK    int `mapstructure:"case_law_top_k"`
		ValidationTopK int `mapstructure:"validation_top_k"`
	} `mapstructure:"engine"`

	Auth struct {
		Issuer   string `mapstructure:"issuer"`
		ClientID string `mapstructure:"client_id"`
	} `mapstructure:"auth"`

	TLS struct {
		Enable       bool     `mapstructure:"enable"`
		CertFile     string   `mapstructure:"cert_file"`
		KeyFile      string   `mapstructure:"key_file"`
		Hostnames    []string `mapstructure:"hostnames"`
		Organization string   `mapstructure:"organization"`
		ValidityDays int      `mapstructure:"validity_days"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("retriever.timeout", "30s")
	viper.SetDefault("generator.timeout", "120s")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Strip a trailing slash so the issuer matches the token claim exactly.
	config.Auth.Issuer = strings.TrimRight(strings.TrimSpace(config.Auth.Issuer), "/")

	return &config, nil
}
