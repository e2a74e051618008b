package host

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/relayd/config"
	"github.com/dep2p/relayd/internal/core/identity"
	"github.com/dep2p/relayd/pkg/interfaces"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	LC        fx.Lifecycle
	Config    *config.Config
	Identity  *identity.Identity
	Transport interfaces.Transport
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Host          *Host
	InterfaceHost interfaces.Host
}

// ProvideHost 提供 Host：启动时监听配置地址，停止时关闭
func ProvideHost(in ModuleInput) (ModuleOutput, error) {
	addrs, err := in.Config.Transport.Multiaddrs()
	if err != nil {
		return ModuleOutput{}, err
	}

	h, err := New(in.Identity, in.Transport)
	if err != nil {
		return ModuleOutput{}, err
	}

	in.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return h.Listen(addrs...)
		},
		OnStop: func(context.Context) error {
			return h.Close()
		},
	})

	return ModuleOutput{Host: h, InterfaceHost: h}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("host",
		fx.Provide(ProvideHost),
	)
}
