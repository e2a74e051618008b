package host

import "time"

// Config Host 配置
type Config struct {
	// UserAgent 节点标识，由 identify 协议公布
	UserAgent string

	// NegotiationTimeout 单个流的协议协商超时
	NegotiationTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		UserAgent:          "relayd/1.0.0",
		NegotiationTimeout: 10 * time.Second,
	}
}

// Option Host 选项
type Option func(*Host) error

// WithConfig 设置配置
func WithConfig(cfg Config) Option {
	return func(h *Host) error {
		h.config = cfg
		return nil
	}
}

// WithUserAgent 设置节点标识
func WithUserAgent(ua string) Option {
	return func(h *Host) error {
		h.config.UserAgent = ua
		return nil
	}
}
