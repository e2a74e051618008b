// Package client 实现中继协议的客户端一侧
//
// 客户端在 hop 流上发起 RESERVE / CANCEL / CONNECT，
// 目标节点通过 StopHandler 接受中继转来的 STOP 请求。
//
//	// 目标节点 A：注册 stop 处理器并在中继预留
//	hostA.SetStreamHandler(protocolids.SysRelayStop, client.StopHandler(onCircuit))
//	rsv, err := client.Reserve(ctx, hostA, relayID, time.Hour)
//
//	// 源节点 B：通过中继连接 A
//	c, err := client.Connect(ctx, hostB, relayID, hostA.ID(), 10*time.Minute)
//	c.Stream.Write(data)
package client
