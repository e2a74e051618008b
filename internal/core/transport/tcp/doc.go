// Package tcp 实现基于 TCP 的传输
//
// TCP 是 QUIC 的备选方案，用于 UDP 被阻止的网络。连接建立顺序：
//
//	TCP → TLS 1.3（双向认证）→ yamux 会话
//
// 地址格式：/ip4/0.0.0.0/tcp/8890
package tcp
