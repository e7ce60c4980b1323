package logger

import (
	"io"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config 控制全局 zerolog 输出格式与级别。
// mapstructure 标签供 viper 使用，split_words 标签供 envconfig 覆盖 (LOG_DEBUG / LOG_PRETTY_FORMAT)。
type Config struct {
	Level        string `mapstructure:"level" split_words:"true" default:"info"`
	Debug        bool   `mapstructure:"debug" split_words:"true" default:"false"`
	PrettyFormat bool   `mapstructure:"pretty_format" split_words:"true" default:"false"`
}

var DefaultConfig = Config{
	Level: "info",
}

// FromEnv 在 base 的基础上读取 LOG_* 环境变量覆盖。
func FromEnv(base Config) (Config, error) {
	var env struct {
		Level        string `split_words:"true"`
		Debug        bool   `split_words:"true"`
		PrettyFormat bool   `split_words:"true"`
	}
	if err := envconfig.Process("log", &env); err != nil {
		return base, err
	}
	if env.Level != "" {
		base.Level = env.Level
	}
	base.Debug = base.Debug || env.Debug
	base.PrettyFormat = base.PrettyFormat || env.PrettyFormat
	return base, nil
}

func Init(opts ...Config) {
	conf := DefaultConfig
	if len(opts) > 0 {
		conf = opts[0]
	}
	log.Logger = New(os.Stdout, conf)
}

// New 构造一个独立 logger，便于测试时写入 buffer。
func New(w io.Writer, conf Config) zerolog.Logger {
	var l zerolog.Logger
	if conf.PrettyFormat {
		l = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	} else {
		l = zerolog.New(w).With().Timestamp().Logger()
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(conf.Level))); err == nil && conf.Level != "" {
		level = parsed
	}
	if conf.Debug {
		level = zerolog.DebugLevel
	}
	return l.Level(level).With().Caller().Logger()
}
