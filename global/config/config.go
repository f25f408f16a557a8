package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile = "config.yaml"
	EnvPrefix         = "MOODBRIDGE_"
)

// Global 进程级配置，由 Init 填充。
var Global = Default()

func Default() AppConfig {
	return AppConfig{
		APIBaseURL:  "http://localhost:8080",
		WSBaseURL:   "ws://localhost:8080",
		LogLevel:    "debug",
		HTTPTimeout: 10 * time.Second,
		Chat: ChatConfig{
			HistoryLimit: 50,
			WriteWait:    10 * time.Second,
			PongWait:     60 * time.Second,
			ReadLimit:    1 << 20,
			Reconnect: ReconnectConfig{
				Enabled:         false,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     30 * time.Second,
				MaxRetries:      5,
			},
		},
		DevServer: DevServerConfig{
			Addr:      ":8080",
			JwtSecret: "mood-bridge-dev-secret",
		},
	}
}

// Init loads the config into Global.
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	Global = cfg
	return nil
}

// Load: defaults -> yaml file -> .env -> MOODBRIDGE_* env.
// A missing file is fine when path is empty or the default name.
func Load(path string) (AppConfig, error) {
	cfg := Default()

	file := path
	if file == "" {
		file = DefaultConfigFile
	}
	b, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return AppConfig{}, errors.Wrapf(err, "parse config %s", file)
		}
	case os.IsNotExist(err) && (path == "" || path == DefaultConfigFile):
	default:
		return AppConfig{}, errors.Wrapf(err, "read config %s", file)
	}

	// .env never overrides variables already set in the process
	_ = godotenv.Load()

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return AppConfig{}, err
	}
	cfg.norm()
	return cfg, nil
}

func applyEnv(cfg *AppConfig, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	str("API_BASE_URL", &cfg.APIBaseURL)
	str("WS_BASE_URL", &cfg.WSBaseURL)
	str("TOKEN", &cfg.Token)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("DEVSERVER_ADDR", &cfg.DevServer.Addr)
	str("JWT_SECRET", &cfg.DevServer.JwtSecret)
	str("REDIS_ADDR", &cfg.DevServer.RedisAddr)
	str("REDIS_PASSWORD", &cfg.DevServer.RedisPassword)

	if v, ok := lookup(EnvPrefix + "RECONNECT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%sRECONNECT", EnvPrefix)
		}
		cfg.Chat.Reconnect.Enabled = b
	}
	if v, ok := lookup(EnvPrefix + "HISTORY_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%sHISTORY_LIMIT", EnvPrefix)
		}
		cfg.Chat.HistoryLimit = n
	}
	if v, ok := lookup(EnvPrefix + "REDIS_DB"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%sREDIS_DB", EnvPrefix)
		}
		cfg.DevServer.RedisDB = n
	}
	return nil
}

func (c *AppConfig) norm() {
	d := Default()
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	c.WSBaseURL = strings.TrimRight(c.WSBaseURL, "/")
	if c.APIBaseURL == "" {
		c.APIBaseURL = d.APIBaseURL
	}
	if c.WSBaseURL == "" {
		c.WSBaseURL = d.WSBaseURL
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = d.HTTPTimeout
	}
	if c.Chat.HistoryLimit <= 0 {
		c.Chat.HistoryLimit = d.Chat.HistoryLimit
	}
	if c.Chat.WriteWait <= 0 {
		c.Chat.WriteWait = d.Chat.WriteWait
	}
	if c.Chat.PongWait <= 0 {
		c.Chat.PongWait = d.Chat.PongWait
	}
	if c.Chat.ReadLimit <= 0 {
		c.Chat.ReadLimit = d.Chat.ReadLimit
	}
	r := &c.Chat.Reconnect
	if r.InitialInterval <= 0 {
		r.InitialInterval = d.Chat.Reconnect.InitialInterval
	}
	if r.MaxInterval < r.InitialInterval {
		r.MaxInterval = d.Chat.Reconnect.MaxInterval
		if r.MaxInterval < r.InitialInterval {
			r.MaxInterval = r.InitialInterval
		}
	}
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
	if c.DevServer.Addr == "" {
		c.DevServer.Addr = d.DevServer.Addr
	}
}
