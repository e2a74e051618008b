package introspect

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"

	"github.com/dep2p/relayd/config"
	"github.com/dep2p/relayd/internal/core/protocol/system/identify"
	"github.com/dep2p/relayd/internal/core/relay"
	"github.com/dep2p/relayd/pkg/interfaces"
)

// Module 返回诊断服务 Fx 模块
//
// 模块同时提供进程内的 Prometheus 注册表，中继指标注册到这里，
// 由 /metrics 导出。
func Module() fx.Option {
	return fx.Module("introspect",
		fx.Provide(
			ProvideRegistry,
			NewFromParams,
		),
		fx.Invoke(registerLifecycle),
	)
}

// RegistryOutput 注册表输出
type RegistryOutput struct {
	fx.Out

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// ProvideRegistry 提供 Prometheus 注册表，附带 Go 运行时和进程指标
func ProvideRegistry() RegistryOutput {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return RegistryOutput{Registerer: reg, Gatherer: reg}
}

// IntrospectParams 诊断服务依赖参数
type IntrospectParams struct {
	fx.In

	UnifiedCfg *config.Config      `optional:"true"`
	Host       interfaces.Host     `optional:"true"`
	Relay      *relay.Service      `optional:"true"`
	Identify   *identify.Service   `optional:"true"`
	Gatherer   prometheus.Gatherer `optional:"true"`
}

// IntrospectOutput 诊断服务输出
type IntrospectOutput struct {
	fx.Out

	Server *Server
}

// ConfigFromUnified 从统一配置创建诊断服务配置，禁用时返回 nil
func ConfigFromUnified(cfg *config.Config) *Config {
	if cfg == nil || !cfg.Diagnostics.Enabled {
		return nil
	}
	addr := cfg.Diagnostics.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	return &Config{
		Addr: addr,
	}
}

// NewFromParams 从参数创建诊断服务
func NewFromParams(params IntrospectParams) IntrospectOutput {
	cfg := ConfigFromUnified(params.UnifiedCfg)
	if cfg == nil {
		return IntrospectOutput{}
	}

	cfg.Host = params.Host
	cfg.Gatherer = params.Gatherer
	if params.Relay != nil {
		cfg.Relay = params.Relay
	}
	if params.Identify != nil {
		cfg.Peers = params.Identify
	}

	return IntrospectOutput{
		Server: New(*cfg),
	}
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, server *Server) {
	if server == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return server.Start(ctx)
		},
		OnStop: func(_ context.Context) error {
			return server.Stop()
		},
	})
}
