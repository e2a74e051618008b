package config

import (
	"errors"
	"fmt"
	"time"
)

// RateConfig 令牌桶速率配置：每 Interval 补充 Limit 个令牌，桶容量为 Limit
type RateConfig struct {
	// Limit 每个周期允许的请求数
	Limit int `json:"limit"`

	// Interval 补充周期
	Interval Duration `json:"interval"`
}

// Validate 验证速率配置
func (c RateConfig) Validate() error {
	if c.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	return nil
}

// RelayConfig 中继服务配置
//
// 所有限制都必须为正数；零或负数在启动时被拒绝，
// 不存在“0 表示不限制”的语义。
type RelayConfig struct {
	// MaxReservationTTL 预留最长有效期，请求的 TTL 会被截断到该值
	MaxReservationTTL Duration `json:"max_reservation_ttl"`

	// MaxReservations 同时存在的预留上限
	MaxReservations int `json:"max_reservations"`

	// MaxCircuitDuration 单条电路最长存活时间
	MaxCircuitDuration Duration `json:"max_circuit_duration"`

	// MaxCircuitBytes 单条电路双向累计可转发字节数
	MaxCircuitBytes int64 `json:"max_circuit_bytes"`

	// MaxCircuits 同时存在的电路上限
	MaxCircuits int `json:"max_circuits"`

	// MaxCircuitsPerPeer 以同一节点为目标的电路上限
	MaxCircuitsPerPeer int `json:"max_circuits_per_peer"`

	// ReservationRate 每个节点的预留请求速率
	ReservationRate RateConfig `json:"reservation_rate"`

	// CircuitRate 每个源节点的电路请求速率
	CircuitRate RateConfig `json:"circuit_rate"`

	// SweepInterval 过期清理周期
	SweepInterval Duration `json:"sweep_interval"`

	// SweepBatch 单次清理的最大条目数
	SweepBatch int `json:"sweep_batch"`

	// RequestTimeout 读取单个请求的超时
	RequestTimeout Duration `json:"request_timeout"`

	// CloseCircuitsOnReservationEnd 预留结束时关闭以该节点为目标的电路
	CloseCircuitsOnReservationEnd bool `json:"close_circuits_on_reservation_end"`
}

// DefaultRelayConfig 返回默认中继配置
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		MaxReservationTTL:  Duration(time.Hour),
		MaxReservations:    1024,
		MaxCircuitDuration: Duration(24 * time.Hour),
		MaxCircuitBytes:    10 << 30,
		MaxCircuits:        1_000_000,
		MaxCircuitsPerPeer: 16,
		ReservationRate:    RateConfig{Limit: 60, Interval: Duration(time.Minute)},
		CircuitRate:        RateConfig{Limit: 60, Interval: Duration(time.Minute)},
		SweepInterval:      Duration(10 * time.Second),
		SweepBatch:         1024,
		RequestTimeout:     Duration(30 * time.Second),
	}
}

// Validate 验证中继配置
func (c RelayConfig) Validate() error {
	positive := []struct {
		name  string
		value int64
	}{
		{"max_reservation_ttl", int64(c.MaxReservationTTL)},
		{"max_reservations", int64(c.MaxReservations)},
		{"max_circuit_duration", int64(c.MaxCircuitDuration)},
		{"max_circuit_bytes", c.MaxCircuitBytes},
		{"max_circuits", int64(c.MaxCircuits)},
		{"max_circuits_per_peer", int64(c.MaxCircuitsPerPeer)},
		{"sweep_interval", int64(c.SweepInterval)},
		{"sweep_batch", int64(c.SweepBatch)},
		{"request_timeout", int64(c.RequestTimeout)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}
	if err := c.ReservationRate.Validate(); err != nil {
		return fmt.Errorf("reservation_rate: %w", err)
	}
	if err := c.CircuitRate.Validate(); err != nil {
		return fmt.Errorf("circuit_rate: %w", err)
	}
	return nil
}
