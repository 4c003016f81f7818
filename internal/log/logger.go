package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 按环境初始化全局 logger：dev 使用彩色控制台输出，其余环境输出 JSON。
func Init(env, level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = New(os.Stdout, env)
}

// New 构造写到 w 的 logger，不修改全局状态。
func New(w io.Writer, env string) zerolog.Logger {
	if env == "dev" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		return zerolog.New(w).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Str("service", "prepmate").Logger()
}

// ParseLevel 解析日志级别，空串或非法值回落到 info。
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
