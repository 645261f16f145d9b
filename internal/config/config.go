package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/spf13/viper"
)

type Config struct {
	Mode      string `mapstructure:"mode"`
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	ReadLimit int64  `mapstructure:"read_limit"`
	Secret    string `mapstructure:"secret"`

	// client
	BrokerURL      string        `mapstructure:"broker_url"`
	RealtimeURL    string        `mapstructure:"realtime_url"`
	Model          string        `mapstructure:"model"`
	Voice          string        `mapstructure:"voice"`
	ChannelLabel   string        `mapstructure:"channel_label"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	GatherTimeout  time.Duration `mapstructure:"gather_timeout"`
	Playback       bool          `mapstructure:"playback"`
	AutoStart      bool          `mapstructure:"auto_start"`

	// broker
	BrokerPort          int           `mapstructure:"broker_port"`
	OpenAIAPIKey        string        `mapstructure:"openai_api_key"`
	OpenAISessionsURL   string        `mapstructure:"openai_sessions_url"`
	TurnDomain          string        `mapstructure:"turn_domain"`
	TurnAPIKey          string        `mapstructure:"turn_api_key"`
	PositionURL         string        `mapstructure:"position_url"`
	SessionRateLimit    int           `mapstructure:"session_rate_limit"`
	SessionRateInterval time.Duration `mapstructure:"session_rate_interval"`
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if present, then applies defaults and environment overrides.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("secret", "")

	v.SetDefault("broker_url", "http://localhost:3000")
	v.SetDefault("realtime_url", "https://api.openai.com/v1/realtime")
	v.SetDefault("model", "gpt-4o-mini-realtime-preview")
	v.SetDefault("voice", "coral")
	v.SetDefault("channel_label", "oai-events")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("gather_timeout", "5s")
	v.SetDefault("playback", true)
	v.SetDefault("auto_start", false)

	v.SetDefault("broker_port", 3000)
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_sessions_url", "https://api.openai.com/v1/realtime/sessions")
	v.SetDefault("turn_domain", "")
	v.SetDefault("turn_api_key", "")
	v.SetDefault("position_url", "http://api.open-notify.org/iss-now.json")
	v.SetDefault("session_rate_limit", 10)
	v.SetDefault("session_rate_interval", "1m")

	v.AutomaticEnv()
	_ = v.BindEnv("broker_url", "API_HOST", "BROKER_URL")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Broker: %s\n", cfg.Mode, cfg.Port, cfg.BrokerURL)
	return &cfg, nil
}

// ValidateClient reports the first setting the voice client cannot run without.
func (c *Config) ValidateClient() error {
	switch {
	case c.BrokerURL == "":
		return fmt.Errorf("%w: broker_url", domain.ErrConfigMissing)
	case c.RealtimeURL == "":
		return fmt.Errorf("%w: realtime_url", domain.ErrConfigMissing)
	case c.Model == "":
		return fmt.Errorf("%w: model", domain.ErrConfigMissing)
	}
	return nil
}

// ValidateBroker only checks what every endpoint needs. Provider keys are
// checked per request so a missing one fails just its endpoint.
func (c *Config) ValidateBroker() error {
	switch {
	case c.Secret == "":
		return fmt.Errorf("%w: secret", domain.ErrConfigMissing)
	case c.SessionRateLimit <= 0:
		return fmt.Errorf("%w: session_rate_limit", domain.ErrConfigMissing)
	}
	return nil
}
