// Package config 提供 relayd 的统一配置管理
//
// 配置来源按优先级从低到高：
//   - 内置默认值（NewConfig）
//   - JSON 配置文件（LoadFile / FromJSON，合并到默认值之上）
//   - 命令行参数（由 cmd/relayd 覆盖）
//
// 使用示例：
//
//	cfg, err := config.LoadFile("relayd.json")
//	if err != nil {
//	    return err
//	}
//	cfg.Transport.Port = 4001
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config

import (
	"errors"
	"fmt"
)

// Config 是 relayd 的完整配置结构
//
//   - Identity: 身份密钥种子
//   - Transport: 传输协议与监听地址
//   - Relay: 中继资源限制
//   - Diagnostics: 诊断 HTTP 服务
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// Relay 中继服务配置
	Relay RelayConfig `json:"relay"`

	// Diagnostics 诊断服务配置
	Diagnostics DiagnosticsConfig `json:"diagnostics"`
}

// NewConfig 创建默认配置
//
// 身份种子没有默认值，必须由配置文件或命令行提供。
func NewConfig() *Config {
	return &Config{
		Identity:    IdentityConfig{},
		Transport:   DefaultTransportConfig(),
		Relay:       DefaultRelayConfig(),
		Diagnostics: DefaultDiagnosticsConfig(),
	}
}

// Validate 验证整个配置
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.Identity.Validate(); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	if err := c.Diagnostics.Validate(); err != nil {
		return fmt.Errorf("diagnostics: %w", err)
	}
	return nil
}

// ============================================================================
//                              诊断配置
// ============================================================================

// DiagnosticsConfig 诊断 HTTP 服务配置
type DiagnosticsConfig struct {
	// Enabled 是否启用诊断服务
	Enabled bool `json:"enabled"`

	// Addr 监听地址，如 "127.0.0.1:6060"
	Addr string `json:"addr"`
}

// DefaultDiagnosticsConfig 返回默认诊断配置（默认关闭）
func DefaultDiagnosticsConfig() DiagnosticsConfig {
	return DiagnosticsConfig{
		Enabled: false,
		Addr:    "127.0.0.1:6060",
	}
}

// Validate 验证诊断配置
func (c DiagnosticsConfig) Validate() error {
	if c.Enabled && c.Addr == "" {
		return errors.New("addr is required when diagnostics is enabled")
	}
	return nil
}
