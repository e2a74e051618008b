package transport

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/relayd/config"
	"github.com/dep2p/relayd/internal/core/identity"
	"github.com/dep2p/relayd/internal/core/transport/quic"
	"github.com/dep2p/relayd/internal/core/transport/tcp"
	"github.com/dep2p/relayd/internal/util/logger"
	"github.com/dep2p/relayd/pkg/interfaces"
)

var log = logger.Logger("transport")

// New 根据传输类型创建传输
func New(kind string, id *identity.Identity) (interfaces.Transport, error) {
	switch kind {
	case config.TransportQUIC, "":
		return quic.New(id)
	case config.TransportTCP:
		return tcp.New(id)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	LC       fx.Lifecycle
	Config   *config.Config
	Identity *identity.Identity
}

// ProvideTransport 提供传输实现，停止时关闭
func ProvideTransport(in ModuleInput) (interfaces.Transport, error) {
	t, err := New(in.Config.Transport.Kind, in.Identity)
	if err != nil {
		return nil, err
	}
	log.Debug("传输已创建", "kind", in.Config.Transport.Kind)

	in.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return t.Close()
		},
	})
	return t, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(ProvideTransport),
	)
}
