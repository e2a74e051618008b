// Package muxer 提供基于 yamux 的流多路复用
//
// TCP 传输在 TLS 之上使用 yamux 承载多条流；QUIC 自带多路复用，不经过本包。
//
// 错误转换：
//   - yamux.ErrStreamReset → ErrStreamReset
//   - yamux.ErrSessionShutdown → ErrConnClosed
//   - 超时错误原样返回（实现 net.Error，Timeout() 为 true）
package muxer
