// Package quic 实现基于 QUIC 的传输
//
// 监听与拨号共用一个 UDP socket（quic.Transport），TLS 1.3 双向认证，
// 远端 PeerID 由证书公钥派生。QUIC 自带流多路复用。
//
// 地址格式：/ip4/0.0.0.0/udp/8890/quic-v1
package quic
