// Package ping 实现存活检测协议
//
// # 协议 ID
//
//	/dep2p/sys/ping/1.0.0
//
// # 消息格式
//
// 请求和响应都是 32 字节的随机数据，响应必须与请求相同。
// 同一个流上可以连续 ping，空闲超过 HandlerIdleTimeout 后服务端关闭流。
//
// # 使用示例
//
//	rtt, err := ping.Ping(ctx, host, peerID)
package ping
