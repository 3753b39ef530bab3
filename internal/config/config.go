package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	Env            string `mapstructure:"ENV"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	CI             bool   `mapstructure:"CI"`
	UseMockScraper bool   `mapstructure:"USE_MOCK_SCRAPER"`
	MockLatency    time.Duration `mapstructure:"MOCK_LATENCY"`

	// Browser.
	BrowserHeadless bool   `mapstructure:"BROWSER_HEADLESS"`
	KeepPagesOpen   bool   `mapstructure:"KEEP_PAGES_OPEN"`
	DataDir         string `mapstructure:"DATA_DIR"`

	// Portal credentials are deployment secrets.
	PortalBaseURL      string `mapstructure:"PORTAL_BASE_URL"`
	PortalUsername     string `mapstructure:"PORTAL_USERNAME"`
	PortalPassword     string `mapstructure:"PORTAL_PASSWORD"`
	CaptchaMaxAttempts int    `mapstructure:"CAPTCHA_MAX_ATTEMPTS"`
	CaptchaEngine      string `mapstructure:"CAPTCHA_ENGINE"`
	OCRCommand         string `mapstructure:"OCR_COMMAND"`
	OCRArgs            string `mapstructure:"OCR_ARGS"`

	// MongoDB.
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DatabaseName string `mapstructure:"DATABASE_NAME"`

	// Redis (asynq).
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Messaging relay.
	BalePhone       string `mapstructure:"BALE_PHONE"`
	BaleLoginURL    string `mapstructure:"BALE_LOGIN_URL"`
	BaleChatURL     string `mapstructure:"BALE_CHAT_URL"`
	BaleSenderTitle string `mapstructure:"BALE_SENDER_TITLE"`
	BaleProfileDir  string `mapstructure:"BALE_PROFILE_DIR"`

	OTPRefreshCron string `mapstructure:"OTP_REFRESH_CRON"`

	// Wait tiers.
	TimeoutShort  time.Duration `mapstructure:"TIMEOUT_SHORT"`
	TimeoutMedium time.Duration `mapstructure:"TIMEOUT_MEDIUM"`
	TimeoutLong   time.Duration `mapstructure:"TIMEOUT_LONG"`
	TimeoutAjax   time.Duration `mapstructure:"TIMEOUT_AJAX"`

	// Reservation revalidation.
	RevalidateBuffer time.Duration `mapstructure:"REVALIDATE_BUFFER"`
	RevalidateRate   int           `mapstructure:"REVALIDATE_RATE"`
}

var AppConfig Config

// LoadConfig reads .env, config.yaml and the environment into AppConfig.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found or error loading it")
	}

	v := viper.New()
	// Look for a config file named "config.yaml" in the current and "config" directory.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.CaptchaMaxAttempts < 1 {
		cfg.CaptchaMaxAttempts = 5
	}

	AppConfig = cfg
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CI", false)
	v.SetDefault("USE_MOCK_SCRAPER", false)
	v.SetDefault("MOCK_LATENCY", "200ms")
	v.SetDefault("BROWSER_HEADLESS", true)
	v.SetDefault("KEEP_PAGES_OPEN", false)
	v.SetDefault("DATA_DIR", "data")
	v.SetDefault("PORTAL_BASE_URL", "https://atabatorg.haj.ir")
	v.SetDefault("PORTAL_USERNAME", "")
	v.SetDefault("PORTAL_PASSWORD", "")
	v.SetDefault("CAPTCHA_MAX_ATTEMPTS", 5)
	v.SetDefault("CAPTCHA_ENGINE", "command")
	v.SetDefault("OCR_COMMAND", "tesseract")
	v.SetDefault("OCR_ARGS", "{image} stdout --psm 7 -l fas+eng")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_NAME", "atabat")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("BALE_PHONE", "")
	v.SetDefault("BALE_LOGIN_URL", "https://web.bale.ai/login?redirectTo=/chat")
	v.SetDefault("BALE_CHAT_URL", "https://web.bale.ai/chat?uid=13449455")
	v.SetDefault("BALE_SENDER_TITLE", "سازمان حج و زیارت")
	v.SetDefault("BALE_PROFILE_DIR", "data/bale-profile")
	v.SetDefault("OTP_REFRESH_CRON", "0 0 * * *")
	v.SetDefault("TIMEOUT_SHORT", "5s")
	v.SetDefault("TIMEOUT_MEDIUM", "10s")
	v.SetDefault("TIMEOUT_LONG", "30s")
	v.SetDefault("TIMEOUT_AJAX", "15s")
	v.SetDefault("REVALIDATE_BUFFER", "30m")
	v.SetDefault("REVALIDATE_RATE", 6)
}

// UseMock reports whether the simulated adapter must be used for this process.
func (c Config) UseMock() bool {
	return c.UseMockScraper || c.Env == "test" || c.CI
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}
