// Package interfaces 定义 relayd 的公共接口
//
// 接口按层次组织：
//   - transport.go  - 传输层：Transport / Listener / Connection / Stream
//   - host.go       - 网络主机：连接注册表、协议协商、断开通知
//
// 中继核心（internal/core/relay）只依赖 Stream 与 Host，
// 测试中用 net.Pipe 实现 Stream 即可驱动完整状态机。
package interfaces
