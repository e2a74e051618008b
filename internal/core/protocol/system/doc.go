// Package system 注册中继节点的系统协议
//
//   - ping: 存活检测
//   - identify: 节点信息交换（仅供诊断）
//
// 中继协议本身由 internal/core/relay 注册。
package system
