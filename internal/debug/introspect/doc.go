// Package introspect 提供本地诊断 HTTP 服务
//
// 该服务运行在本地端口，提供 JSON 格式的诊断信息和 Prometheus 指标。
// 默认绑定到 127.0.0.1，不暴露到网络；默认关闭，需要在配置中启用。
//
// # 端点
//
//   - GET /health                    - 健康检查
//   - GET /metrics                   - Prometheus 指标
//   - GET /debug/node                - 节点 ID、地址、协议
//   - GET /debug/peers               - 已连接节点及其 identify 信息
//   - GET /debug/relay/stats         - 中继统计
//   - GET /debug/relay/reservations  - 活跃预留
//   - GET /debug/relay/circuits      - 活跃电路
//   - GET /debug/runtime             - Go 运行时信息
//   - GET /debug/profile/pprof/*     - pprof
//
// # 使用
//
//	server := introspect.New(introspect.Config{
//	    Addr:  "127.0.0.1:6060",
//	    Host:  h,
//	    Relay: relaySvc,
//	})
//	server.Start(ctx)
//	defer server.Stop()
package introspect
