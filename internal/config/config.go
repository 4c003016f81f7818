package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string   `yaml:"port"`
	DatabaseDSN           string   `yaml:"database_dsn"`
	JWTSecret             string   `yaml:"jwt_secret"`
	Env                   string   `yaml:"env"`
	LogLevel              string   `yaml:"log_level"`
	AccessTokenTTLMinutes int      `yaml:"access_token_ttl_minutes"`
	RefreshTokenTTLDays   int      `yaml:"refresh_token_ttl_days"`
	RedisAddr             string   `yaml:"redis_addr"`
	VideoBaseURL          string   `yaml:"video_base_url"`
	SweepSchedule         string   `yaml:"sweep_schedule"`
	CORSOrigins           []string `yaml:"cors_origins"`
	RateLimitRPS          int      `yaml:"rate_limit_rps"`
	RateLimitBurst        int      `yaml:"rate_limit_burst"`
	SMTP                  SMTP     `yaml:"smtp"`
}

// SMTP 邮件配置，User 为空时使用只写日志的 mailer。
type SMTP struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
	From string `yaml:"from"`
}

func defaults() Config {
	return Config{
		Port:                  "8080",
		DatabaseDSN:           "host=localhost user=postgres password=postgres dbname=prepmate port=5432 sslmode=disable TimeZone=UTC",
		JWTSecret:             defaultJWTSecret,
		Env:                   "dev",
		LogLevel:              "info",
		AccessTokenTTLMinutes: 7 * 24 * 60,
		RefreshTokenTTLDays:   30,
		VideoBaseURL:          "https://meet.jit.si",
		SweepSchedule:         "@every 1m",
		RateLimitRPS:          20,
		RateLimitBurst:        40,
		SMTP:                  SMTP{Host: "smtp.gmail.com", Port: "587"},
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Load 先读取 CONFIG_FILE 指向的 YAML（可选），再用环境变量覆盖。
func Load() Config {
	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if fileCfg, err := LoadFile(path, cfg); err == nil {
			cfg = fileCfg
		}
	}
	def := defaults()
	cfg.Port = getenv("APP_PORT", cfg.Port)
	cfg.DatabaseDSN = getenv("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)
	cfg.Env = getenv("APP_ENV", cfg.Env)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.AccessTokenTTLMinutes = getenvInt("ACCESS_TOKEN_TTL_MINUTES", positiveOr(cfg.AccessTokenTTLMinutes, def.AccessTokenTTLMinutes))
	cfg.RefreshTokenTTLDays = getenvInt("REFRESH_TOKEN_TTL_DAYS", positiveOr(cfg.RefreshTokenTTLDays, def.RefreshTokenTTLDays))
	cfg.RedisAddr = getenv("REDIS_ADDR", cfg.RedisAddr)
	cfg.VideoBaseURL = strings.TrimRight(getenv("VIDEO_BASE_URL", cfg.VideoBaseURL), "/")
	cfg.SweepSchedule = getenv("SWEEP_SCHEDULE", cfg.SweepSchedule)
	cfg.RateLimitRPS = getenvInt("RATE_LIMIT_RPS", positiveOr(cfg.RateLimitRPS, def.RateLimitRPS))
	cfg.RateLimitBurst = getenvInt("RATE_LIMIT_BURST", positiveOr(cfg.RateLimitBurst, def.RateLimitBurst))
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	cfg.SMTP.Host = getenv("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = getenv("SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.User = getenv("SMTP_USER", cfg.SMTP.User)
	cfg.SMTP.Pass = getenv("SMTP_PASS", cfg.SMTP.Pass)
	cfg.SMTP.From = getenv("SMTP_FROM", cfg.SMTP.From)
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.User
	}
	return cfg
}

// LoadFile 把 YAML 文件合并到 base 之上，文件中缺省的字段保留 base 的值。
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, err
	}
	return cfg, nil
}

// Validate 检查启动必需的配置，非 dev 环境禁止使用默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("database dsn is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("default jwt secret is not allowed outside dev")
	}
	return nil
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
