package protocol

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/relayd/internal/core/host"
	"github.com/dep2p/relayd/internal/core/protocol/system/identify"
	"github.com/dep2p/relayd/internal/core/protocol/system/ping"
	"github.com/dep2p/relayd/internal/util/logger"
)

var log = logger.Logger("protocol")

// Params 系统协议依赖参数
type Params struct {
	fx.In

	Host *host.Host
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("protocol",
		fx.Provide(
			ProvidePing,
			ProvideIdentify,
		),
		fx.Invoke(registerSystemProtocols),
	)
}

// ProvidePing 提供 Ping 服务
func ProvidePing() *ping.Service {
	return ping.NewService()
}

// ProvideIdentify 提供 Identify 服务
func ProvideIdentify(p Params) (*identify.Service, error) {
	return identify.NewService(p.Host, p.Host.Identity().PublicKey(), p.Host.UserAgent(), identify.DefaultCacheSize)
}

type systemProtocolsInput struct {
	fx.In

	LC       fx.Lifecycle
	Host     *host.Host
	Ping     *ping.Service
	Identify *identify.Service
}

// registerSystemProtocols 启动时注册 Ping 和 Identify，停止时移除
func registerSystemProtocols(in systemProtocolsInput) {
	notifiee := in.Identify.Notifiee()

	in.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			in.Host.SetStreamHandler(ping.ProtocolID, in.Ping.Handler)
			in.Host.SetStreamHandler(identify.ProtocolID, in.Identify.Handler)
			in.Host.Notify(notifiee)
			log.Info("系统协议注册完成",
				"nodeID", in.Host.ID().ShortString(),
				"protocols", []string{string(ping.ProtocolID), string(identify.ProtocolID)})
			return nil
		},
		OnStop: func(context.Context) error {
			in.Host.StopNotify(notifiee)
			in.Host.RemoveStreamHandler(identify.ProtocolID)
			in.Host.RemoveStreamHandler(ping.ProtocolID)
			in.Identify.Close()
			return nil
		},
	})
}
