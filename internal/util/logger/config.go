package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 环境变量名
const (
	// EnvLogLevel 日志级别，格式: 子系统=级别,子系统=级别,默认级别
	EnvLogLevel = "RELAYD_LOG_LEVEL"
	// EnvLogFormat 日志格式: text | json
	EnvLogFormat = "RELAYD_LOG_FORMAT"
	// EnvLogAddSource 是否输出源码位置: true | false
	EnvLogAddSource = "RELAYD_LOG_ADD_SOURCE"
)

// LogFormat 日志输出格式
type LogFormat int

const (
	// FormatText 文本格式（默认）
	FormatText LogFormat = iota
	// FormatJSON JSON 格式
	FormatJSON
)

// Config 日志配置
type Config struct {
	// DefaultLevel 默认日志级别
	DefaultLevel slog.Level

	// SubsystemLevels 各子系统的日志级别
	SubsystemLevels map[string]slog.Level

	// Format 输出格式
	Format LogFormat

	// AddSource 是否添加源码位置
	AddSource bool
}

// LevelForSubsystem 获取指定子系统的日志级别
func (c *Config) LevelForSubsystem(subsystem string) slog.Level {
	if level, ok := c.SubsystemLevels[subsystem]; ok {
		return level
	}
	return c.DefaultLevel
}

var (
	configMu    sync.RWMutex
	configCache *Config
)

// ConfigFromEnv 返回当前生效的日志配置
//
// 首次调用时从环境变量解析，之后返回缓存；Apply 可以覆盖。
func ConfigFromEnv() *Config {
	configMu.RLock()
	cfg := configCache
	configMu.RUnlock()
	if cfg != nil {
		return cfg
	}

	configMu.Lock()
	defer configMu.Unlock()
	if configCache == nil {
		configCache = parseEnv()
	}
	return configCache
}

// Apply 用级别字符串覆盖当前配置，并调整已创建的子系统 Logger
//
// levelSpec 与 RELAYD_LOG_LEVEL 格式相同；format 为 "text" 或 "json"，
// 空字符串表示保持不变。格式变更只影响之后创建的 Logger。
func Apply(levelSpec, format string) {
	configMu.Lock()
	if configCache == nil {
		configCache = parseEnv()
	}
	cfg := configCache
	if levelSpec != "" {
		parseLevelSpec(cfg, levelSpec)
	}
	switch strings.ToLower(format) {
	case "json":
		cfg.Format = FormatJSON
	case "text":
		cfg.Format = FormatText
	}
	configMu.Unlock()

	handlers.Range(func(key, value any) bool {
		value.(*subsystemHandler).SetLevel(cfg.LevelForSubsystem(key.(string)))
		return true
	})
}

// parseEnv 解析环境变量配置
func parseEnv() *Config {
	cfg := &Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
		Format:          FormatText,
	}

	if levelStr := os.Getenv(EnvLogLevel); levelStr != "" {
		parseLevelSpec(cfg, levelStr)
	}

	if strings.EqualFold(os.Getenv(EnvLogFormat), "json") {
		cfg.Format = FormatJSON
	}

	if v := os.Getenv(EnvLogAddSource); v != "" {
		cfg.AddSource = v != "false" && v != "0"
	}

	return cfg
}

// parseLevelSpec 解析日志级别配置字符串
// 格式: subsystem=level,subsystem=level,defaultLevel
func parseLevelSpec(cfg *Config, spec string) {
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if subsystem, levelName, ok := strings.Cut(part, "="); ok {
			if level, ok := ParseLevel(strings.TrimSpace(levelName)); ok {
				cfg.SubsystemLevels[strings.TrimSpace(subsystem)] = level
			}
			continue
		}

		if level, ok := ParseLevel(part); ok {
			cfg.DefaultLevel = level
		}
	}
}

// ParseLevel 解析日志级别名称
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// ResetConfig 重置配置缓存（仅用于测试）
func ResetConfig() {
	configMu.Lock()
	configCache = nil
	configMu.Unlock()
}
