package protocolids

import (
	"strings"

	"github.com/dep2p/relayd/pkg/types"
)

// SysPrefix 系统协议前缀，所有系统协议以此开头
const SysPrefix = "/dep2p/sys/"

// ----------------------------------------------------------------------------
// 核心基础协议
// ----------------------------------------------------------------------------

// SysPing Ping 协议，用于节点存活检测和延迟测量
const SysPing types.ProtocolID = "/dep2p/sys/ping/1.0.0"

// SysIdentify 身份识别协议，用于交换节点元数据
const SysIdentify types.ProtocolID = "/dep2p/sys/identify/1.0.0"

// ----------------------------------------------------------------------------
// 中继协议
// ----------------------------------------------------------------------------

// SysRelayHop 中继 HOP 协议：客户端 → 中继（RESERVE / CANCEL / CONNECT）
const SysRelayHop types.ProtocolID = "/dep2p/sys/relay/hop/1.0.0"

// SysRelayStop 中继 STOP 协议：中继 → 目标节点（STOP）
const SysRelayStop types.ProtocolID = "/dep2p/sys/relay/stop/1.0.0"

// AllSys 返回全部系统协议
func AllSys() []types.ProtocolID {
	return []types.ProtocolID{
		SysPing,
		SysIdentify,
		SysRelayHop,
		SysRelayStop,
	}
}

// IsSys 判断协议是否属于系统协议范围
func IsSys(p types.ProtocolID) bool {
	return strings.HasPrefix(string(p), SysPrefix)
}
