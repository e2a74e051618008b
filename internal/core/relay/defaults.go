package relay

import "time"

// 默认限制，与宽松配置档一致
const (
	DefaultMaxReservationTTL  = time.Hour
	DefaultMaxReservations    = 1024
	DefaultMaxCircuitDuration = 24 * time.Hour
	DefaultMaxCircuitBytes    = 10 << 30
	DefaultMaxCircuits        = 1_000_000
	DefaultMaxCircuitsPerPeer = 16
	DefaultRateLimit          = 60
	DefaultRateInterval       = time.Minute
	DefaultSweepInterval      = 10 * time.Second
	DefaultSweepBatch         = 1024
	DefaultRequestTimeout     = 30 * time.Second
)

// limiterGrace 空闲令牌桶的最短保留时间
const limiterGrace = 5 * time.Minute

// copyBufferSize 转发缓冲区大小
const copyBufferSize = 32 * 1024
