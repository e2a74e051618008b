package relay

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/relayd/config"
	"github.com/dep2p/relayd/pkg/interfaces"
	"github.com/dep2p/relayd/pkg/protocolids"
)

// ServiceInput Service 依赖
type ServiceInput struct {
	fx.In

	Config     *config.Config `optional:"true"`
	Host       interfaces.Host
	Registerer prometheus.Registerer `optional:"true"`
	Clock      clock.Clock           `optional:"true"`
}

// ServiceOutput Service 输出
type ServiceOutput struct {
	fx.Out

	Service *Service
}

// ProvideService 提供 Service
func ProvideService(input ServiceInput) (ServiceOutput, error) {
	h := input.Host
	svc, err := NewService(ConfigFromUnified(input.Config), h,
		WithClock(input.Clock),
		WithRegisterer(input.Registerer),
		WithAddrs(func() []string {
			addrs := h.Addrs()
			out := make([]string, 0, len(addrs))
			for _, a := range addrs {
				out = append(out, a.String())
			}
			return out
		}),
	)
	if err != nil {
		return ServiceOutput{}, err
	}
	return ServiceOutput{Service: svc}, nil
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("relay",
		fx.Provide(ProvideService),
		fx.Invoke(registerLifecycle),
	)
}

// registerLifecycle 注册协议处理器与断开通知
func registerLifecycle(lc fx.Lifecycle, svc *Service, h interfaces.Host) {
	notifiee := svc.Notifiee()
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			svc.Start()
			h.Notify(notifiee)
			h.SetStreamHandler(protocolids.SysRelayHop, svc.HandleHopStream)
			return nil
		},
		OnStop: func(_ context.Context) error {
			h.RemoveStreamHandler(protocolids.SysRelayHop)
			h.StopNotify(notifiee)
			svc.Shutdown()
			return nil
		},
	})
}
