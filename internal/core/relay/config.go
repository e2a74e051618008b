package relay

import (
	"fmt"
	"time"

	"github.com/dep2p/relayd/config"
)

// Rate 令牌桶参数：每 Interval 补充 Limit 个令牌，容量 Limit
type Rate struct {
	Limit    int
	Interval time.Duration
}

// Config 中继服务配置
type Config struct {
	// MaxReservationTTL 预留最长有效期
	MaxReservationTTL time.Duration

	// MaxReservations 同时存在的预留上限
	MaxReservations int

	// MaxCircuitDuration 电路最长存活时间
	MaxCircuitDuration time.Duration

	// MaxCircuitBytes 电路双向累计字节上限
	MaxCircuitBytes uint64

	// MaxCircuits 电路总数上限
	MaxCircuits int

	// MaxCircuitsPerPeer 以同一节点为目标的电路上限
	MaxCircuitsPerPeer int

	// ReservationRate 每节点预留请求速率
	ReservationRate Rate

	// CircuitRate 每源节点电路请求速率
	CircuitRate Rate

	// SweepInterval 过期清理周期
	SweepInterval time.Duration

	// SweepBatch 单次清理条目上限
	SweepBatch int

	// RequestTimeout 单个请求的读取与 STOP 握手超时
	RequestTimeout time.Duration

	// CloseCircuitsOnReservationEnd 预留结束时关闭以该节点为目标的电路
	CloseCircuitsOnReservationEnd bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxReservationTTL:  DefaultMaxReservationTTL,
		MaxReservations:    DefaultMaxReservations,
		MaxCircuitDuration: DefaultMaxCircuitDuration,
		MaxCircuitBytes:    DefaultMaxCircuitBytes,
		MaxCircuits:        DefaultMaxCircuits,
		MaxCircuitsPerPeer: DefaultMaxCircuitsPerPeer,
		ReservationRate:    Rate{Limit: DefaultRateLimit, Interval: DefaultRateInterval},
		CircuitRate:        Rate{Limit: DefaultRateLimit, Interval: DefaultRateInterval},
		SweepInterval:      DefaultSweepInterval,
		SweepBatch:         DefaultSweepBatch,
		RequestTimeout:     DefaultRequestTimeout,
	}
}

// ConfigFromUnified 从统一配置创建中继配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	r := cfg.Relay
	return Config{
		MaxReservationTTL:  r.MaxReservationTTL.Duration(),
		MaxReservations:    r.MaxReservations,
		MaxCircuitDuration: r.MaxCircuitDuration.Duration(),
		MaxCircuitBytes:    uint64(max(r.MaxCircuitBytes, 0)),
		MaxCircuits:        r.MaxCircuits,
		MaxCircuitsPerPeer: r.MaxCircuitsPerPeer,
		ReservationRate: Rate{
			Limit:    r.ReservationRate.Limit,
			Interval: r.ReservationRate.Interval.Duration(),
		},
		CircuitRate: Rate{
			Limit:    r.CircuitRate.Limit,
			Interval: r.CircuitRate.Interval.Duration(),
		},
		SweepInterval:                 r.SweepInterval.Duration(),
		SweepBatch:                    r.SweepBatch,
		RequestTimeout:                r.RequestTimeout.Duration(),
		CloseCircuitsOnReservationEnd: r.CloseCircuitsOnReservationEnd,
	}
}

// Validate 验证配置，所有限制必须为正
func (c Config) Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"MaxReservationTTL", c.MaxReservationTTL > 0},
		{"MaxReservations", c.MaxReservations > 0},
		{"MaxCircuitDuration", c.MaxCircuitDuration > 0},
		{"MaxCircuitBytes", c.MaxCircuitBytes > 0},
		{"MaxCircuits", c.MaxCircuits > 0},
		{"MaxCircuitsPerPeer", c.MaxCircuitsPerPeer > 0},
		{"ReservationRate.Limit", c.ReservationRate.Limit > 0},
		{"ReservationRate.Interval", c.ReservationRate.Interval > 0},
		{"CircuitRate.Limit", c.CircuitRate.Limit > 0},
		{"CircuitRate.Interval", c.CircuitRate.Interval > 0},
		{"SweepInterval", c.SweepInterval > 0},
		{"SweepBatch", c.SweepBatch > 0},
		{"RequestTimeout", c.RequestTimeout > 0},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, chk.name)
		}
	}
	return nil
}
