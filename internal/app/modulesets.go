package app

import (
	"go.uber.org/fx"

	"github.com/dep2p/relayd/internal/core/host"
	"github.com/dep2p/relayd/internal/core/identity"
	"github.com/dep2p/relayd/internal/core/protocol"
	"github.com/dep2p/relayd/internal/core/relay"
	"github.com/dep2p/relayd/internal/core/transport"
	"github.com/dep2p/relayd/internal/debug/introspect"
)

// FoundationModules 身份 (Tier 1)
func FoundationModules() fx.Option {
	return fx.Options(
		identity.Module(),
	)
}

// NetworkModules 传输与主机 (Tier 2)
//
// 传输类型由 config.Transport.Kind 选择。
func NetworkModules() fx.Option {
	return fx.Options(
		transport.Module(),
		host.Module(),
	)
}

// ServiceModules 系统协议与中继服务 (Tier 3)
func ServiceModules() fx.Option {
	return fx.Options(
		protocol.Module(),
		relay.Module(),
		fx.Invoke(logRelayEvents),
	)
}

// MonitoringModules 指标注册表与诊断服务 (Tier 4)
//
// 诊断 HTTP 服务由 config.Diagnostics.Enabled 控制；
// 注册表始终提供，中继指标注册在这里。
func MonitoringModules() fx.Option {
	return fx.Options(
		introspect.Module(),
	)
}

// Modules 全部模块
func Modules() fx.Option {
	return fx.Options(
		FoundationModules(),
		NetworkModules(),
		ServiceModules(),
		MonitoringModules(),
	)
}
