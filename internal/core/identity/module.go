package identity

import (
	"go.uber.org/fx"

	"github.com/dep2p/relayd/config"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Config *config.Config
}

// ProvideIdentity 从配置种子派生节点身份
func ProvideIdentity(in ModuleInput) (*Identity, error) {
	if err := in.Config.Identity.Validate(); err != nil {
		return nil, err
	}
	return FromSeed(*in.Config.Identity.Seed), nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("identity",
		fx.Provide(ProvideIdentity),
	)
}
