package config

import "errors"

// ErrSeedRequired 未提供密钥种子
var ErrSeedRequired = errors.New("secret key seed is required")

// IdentityConfig 身份配置
//
// 节点密钥由单字节种子确定性派生：种子写入 32 字节 Ed25519 种子的第 0 字节，
// 其余字节为零。相同种子总是得到相同的 PeerID。
type IdentityConfig struct {
	// Seed 密钥种子（0-255）
	Seed *uint8 `json:"seed,omitempty"`
}

// WithSeed 设置种子
func (c IdentityConfig) WithSeed(seed uint8) IdentityConfig {
	c.Seed = &seed
	return c
}

// Validate 验证身份配置
func (c IdentityConfig) Validate() error {
	if c.Seed == nil {
		return ErrSeedRequired
	}
	return nil
}
