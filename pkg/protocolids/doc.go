// Package protocolids 定义 relayd 所有协议的唯一协议 ID 注册表。
//
// 本包是协议 ID 的唯一来源，其他模块需要协议 ID 时必须引用这里的常量。
//
// 协议命名规范：
//
//   - 系统协议: /dep2p/sys/{name}/{version}
//     例如: /dep2p/sys/ping/1.0.0, /dep2p/sys/relay/hop/1.0.0
//
// 协议版本仅使用 major.minor.patch 中的 major 判断兼容性，
// 不兼容的 wire 格式变化必须提升 major。
package protocolids
