package types

import "time"

// ============================================================================
//                              RelayStats - 中继统计
// ============================================================================

// RelayStats 中继统计快照
type RelayStats struct {
	// ActiveReservations 当前活跃预留数
	ActiveReservations int `json:"active_reservations"`

	// ActiveCircuits 当前活跃电路数
	ActiveCircuits int `json:"active_circuits"`

	// TotalReservations 累计接受的预留数（含续约）
	TotalReservations uint64 `json:"total_reservations"`

	// TotalCircuits 累计建立的电路数
	TotalCircuits uint64 `json:"total_circuits"`

	// TotalDenied 累计拒绝的请求数
	TotalDenied uint64 `json:"total_denied"`

	// TotalBytesRelayed 累计转发字节数
	TotalBytesRelayed uint64 `json:"total_bytes_relayed"`

	// Uptime 运行时间
	Uptime time.Duration `json:"uptime"`
}

// ============================================================================
//                              ReservationInfo - 预留信息
// ============================================================================

// ReservationInfo 预留信息（只读快照）
type ReservationInfo struct {
	// Peer 预留者节点 ID
	Peer PeerID `json:"peer"`

	// Addrs 通过本中继可达的地址
	Addrs []string `json:"addrs"`

	// CreatedAt 首次预留时间
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt 过期时间
	ExpiresAt time.Time `json:"expires_at"`
}

// ============================================================================
//                              CircuitInfo - 电路信息
// ============================================================================

// CircuitInfo 电路信息（只读快照）
type CircuitInfo struct {
	ID             CircuitID     `json:"id"`
	Src            PeerID        `json:"src"`
	Dst            PeerID        `json:"dst"`
	OpenedAt       time.Time     `json:"opened_at"`
	MaxDuration    time.Duration `json:"max_duration"`
	MaxBytes       uint64        `json:"max_bytes"`
	BytesRemaining uint64        `json:"bytes_remaining"`
	State          string        `json:"state"`
}
