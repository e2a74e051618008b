// Package protocol 装配系统协议
//
// 中继节点除了 hop 协议外，还对外提供两个系统协议：
//   - Ping (/dep2p/sys/ping/1.0.0) - 存活检测和 RTT 测量
//   - Identify (/dep2p/sys/identify/1.0.0) - 节点身份信息交换
//
// 协议分派由 host 的 multistream-select 完成，本包只负责在启动时
// 注册处理器，并在新连接建立时触发 identify。
//
// # Fx 集成
//
//	fx.New(
//	    host.Module(),
//	    protocol.Module(),
//	)
package protocol
