package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// FromJSON 从 JSON 数据创建配置
//
// JSON 中出现的字段覆盖默认值，未出现的字段保留默认值。
//
// 示例 JSON:
//
//	{
//	  "identity": {"seed": 1},
//	  "transport": {"kind": "tcp", "port": 4001},
//	  "relay": {"max_circuits_per_peer": 4, "circuit_rate": {"limit": 10, "interval": "1m"}}
//	}
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// LoadFile 从文件加载配置；path 为空时返回默认配置
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return NewConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return FromJSON(data)
}

// ToJSON 将配置序列化为带缩进的 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
