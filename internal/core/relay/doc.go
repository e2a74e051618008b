// Package relay 实现电路中继服务
//
// 中继让两个无法直连的节点通过第三方转发字节流。本包负责预留管理、
// 电路建立与资源治理（字节配额、时长、并发电路数、请求速率）。
//
// # 组件
//
//	Limiter          按 key 的令牌桶（golang.org/x/time/rate）
//	ReservationStore 活跃预留，带过期时间
//	CircuitTable     活跃电路，字节与时长预算
//	ProtocolHandler  每个 hop 流的状态机
//	Service          组合以上组件：清理定时器、事件、关闭流程
//
// # 控制流
//
//	hop 流 → ProtocolHandler 解码 → Limiter → ReservationStore / CircuitTable
//	       → 向 dst 打开 STOP 流 → 回复 src → 经 CircuitTable 计量双向转发
//
// # 协议
//
//	/dep2p/sys/relay/hop/1.0.0   客户端 → 中继：RESERVE / CANCEL / CONNECT
//	/dep2p/sys/relay/stop/1.0.0  中继 → 目标：STOP
//
// 帧格式见 pkg/lib/proto/relay。
//
// # 策略
//
// 预留过期、取消或断开不影响已有电路，除非开启 CloseCircuitsOnReservationEnd。
package relay
