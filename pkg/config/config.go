package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Analysis  AnalysisConfig
	Groq      GroqConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	MaxTextLength  int
	AccessLog      bool
	AllowedOrigins []string
	StaticDir      string
	IsDevelopment  bool
}

type DatabaseConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret     string
	TokenTTLHours int
}

type AnalysisConfig struct {
	URL        string
	TimeoutSec int
}

type GroqConfig struct {
	APIKey      string
	BaseURL     string
	TimeoutSec  int
	MaxAttempts int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// legacyEnv maps config keys to the unprefixed variable names the deployment already uses.
var legacyEnv = map[string]string{
	"analysis.url":   "ANALYSIS_SERVICE_URL",
	"groq.apiKey":    "GROQ_API_KEY",
	"database.url":   "DATABASE_URL",
	"auth.jwtSecret": "JWT_SECRET",
	"server.port":    "PORT",
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/virtual-therapist")

	v.SetEnvPrefix("VT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "VT_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Analysis.URL = strings.TrimSpace(config.Analysis.URL)

	return &config, nil
}

// Validate reports missing secrets the server cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return ErrMissingDatabaseURL
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 1<<20)
	v.SetDefault("server.maxTextLength", 10000)
	v.SetDefault("server.accessLog", true)
	v.SetDefault("server.allowedOrigins", []string{"https://virtual-therapist.vercel.app", "http://localhost:5173"})
	v.SetDefault("server.staticDir", "")
	v.SetDefault("server.isDevelopment", false)

	v.SetDefault("auth.tokenTTLHours", 24*7)

	v.SetDefault("analysis.url", "")
	v.SetDefault("analysis.timeoutSec", 30)

	v.SetDefault("groq.baseURL", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.timeoutSec", 20)
	v.SetDefault("groq.maxAttempts", 2)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlSec", 3600)

	v.SetDefault("rateLimit.requestsPerMinute", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
