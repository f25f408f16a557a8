package config

import "time"

type AppConfig struct {
	APIBaseURL  string        `yaml:"api_base_url"` // REST 接口地址
	WSBaseURL   string        `yaml:"ws_base_url"`  // 实时通道地址（ws:// 或 wss://）
	Token       string        `yaml:"token"`        // bearer token，一般走环境变量
	LogLevel    string        `yaml:"log_level"`    // debug/info/warn/error
	HTTPTimeout time.Duration `yaml:"http_timeout"` // 单次 REST 请求超时

	Chat      ChatConfig      `yaml:"chat"`
	DevServer DevServerConfig `yaml:"devserver"`
}

type ChatConfig struct {
	HistoryLimit int           `yaml:"history_limit"` // 历史消息单页条数
	WriteWait    time.Duration `yaml:"write_wait"`    // 写超时
	PongWait     time.Duration `yaml:"pong_wait"`     // 等待 pong 的读超时
	ReadLimit    int64         `yaml:"read_limit"`    // 单帧最大字节数

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig 断线重连策略，默认关闭（只能手动重连）。
type ReconnectConfig struct {
	Enabled         bool          `yaml:"enabled"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxRetries      int           `yaml:"max_retries"`
}

// DevServerConfig 本地联调用的消息端点。
type DevServerConfig struct {
	Addr          string `yaml:"addr"`
	JwtSecret     string `yaml:"jwt_secret"`
	RedisAddr     string `yaml:"redis_addr"` // 为空则使用内存存储
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}
