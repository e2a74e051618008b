// Package host 实现 relayd 的网络主机
//
// Host 把一个 Transport 包装成按 PeerID 索引的连接注册表：
//   - 监听配置的地址，为每条入站连接启动流接受循环
//   - 入站流用 multistream-select 协商协议后交给注册的处理器
//   - NewStream 只在已有连接上打开流，不主动拨号
//   - 节点的最后一条连接关闭时通知 Notifiee
//
// 中继服务通过 NewStream 向目标节点打开 STOP 流，
// 通过 Notify 得知预留者断开。
package host
