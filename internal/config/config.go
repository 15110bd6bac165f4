package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Port          string `yaml:"port"`
	DBPath        string `yaml:"db_path"`
	JWTSecret     string `yaml:"jwt_secret"` // 为空时不启用鉴权
	LogLevel      string `yaml:"log_level"`
	AnimationsDir string `yaml:"animations_dir"` // 预置动画目录

	Backend    BackendConfig    `yaml:"backend"`
	Generation GenerationConfig `yaml:"generation"`
	Studio     StudioConfig     `yaml:"studio"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// BackendConfig 渲染后端配置
type BackendConfig struct {
	Mode       string        `yaml:"mode"` // local, http
	URL        string        `yaml:"url"`
	Token      string        `yaml:"token"`
	BasePrompt string        `yaml:"base_prompt"`
	Timeout    time.Duration `yaml:"timeout"`
}

// GenerationConfig 生成任务轮询配置
type GenerationConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxPollDuration  time.Duration `yaml:"max_poll_duration"`
	MaxPollErrors    int           `yaml:"max_poll_errors"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	RequireReference bool          `yaml:"require_reference"`
}

// StudioConfig 时间轴持久化配置
type StudioConfig struct {
	PersistDelay   time.Duration `yaml:"persist_delay"`
	PreviewWorkers int           `yaml:"preview_workers"`
}

// RateLimitConfig 生成接口限流
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Backend modes
const (
	BackendLocal = "local"
	BackendHTTP  = "http"
)

// Default 默认配置
func Default() *Config {
	return &Config{
		Port:          ":8080",
		DBPath:        "./data/framelab.db",
		LogLevel:      "info",
		AnimationsDir: "./animations",
		Backend: BackendConfig{
			Mode:    BackendLocal,
			Timeout: 30 * time.Second,
		},
		Generation: GenerationConfig{
			PollInterval:    time.Second,
			MaxPollDuration: 10 * time.Minute,
			MaxPollErrors:   5,
			RequestTimeout:  30 * time.Second,
		},
		Studio: StudioConfig{
			PersistDelay:   250 * time.Millisecond,
			PreviewWorkers: 4,
		},
		RateLimit: RateLimitConfig{
			Requests: 30,
			Window:   time.Minute,
		},
	}
}

// Load 加载配置: 默认值, 然后 FRAMELAB_CONFIG 指向的 YAML 文件, 最后环境变量
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("FRAMELAB_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("PORT", &c.Port)
	setString("DB_PATH", &c.DBPath)
	setString("JWT_SECRET", &c.JWTSecret)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("ANIMATIONS_DIR", &c.AnimationsDir)
	setString("BACKEND_MODE", &c.Backend.Mode)
	setString("BACKEND_URL", &c.Backend.URL)
	setString("BACKEND_TOKEN", &c.Backend.Token)
	setString("BASE_PROMPT", &c.Backend.BasePrompt)

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid POLL_INTERVAL: %w", err)
		}
		c.Generation.PollInterval = d
	}
	if v := os.Getenv("REQUIRE_REFERENCE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid REQUIRE_REFERENCE: %w", err)
		}
		c.Generation.RequireReference = b
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	switch c.Backend.Mode {
	case BackendLocal:
	case BackendHTTP:
		if c.Backend.URL == "" {
			return errors.New("backend.url is required in http mode")
		}
	default:
		return fmt.Errorf("unknown backend mode %q", c.Backend.Mode)
	}
	if c.Generation.PollInterval <= 0 || c.Generation.MaxPollDuration <= 0 {
		return errors.New("generation intervals must be positive")
	}
	if c.Generation.MaxPollErrors <= 0 {
		return errors.New("generation.max_poll_errors must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel 日志级别
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
