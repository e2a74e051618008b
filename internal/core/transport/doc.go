// Package transport 按配置选择传输实现
//
//   - quic: 默认，QUIC + TLS 1.3
//   - tcp: TCP + TLS 1.3 + yamux
//
// 两种实现返回的连接都已完成双向认证，RemotePeer 由证书公钥派生。
package transport
