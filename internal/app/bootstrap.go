// Package app 提供 relayd 应用编排层
//
// app 包负责：
// - fx 模块组装
// - 依赖注入协调
// - 生命周期管理
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/relayd/config"
	"github.com/dep2p/relayd/internal/core/host"
	"github.com/dep2p/relayd/internal/core/protocol/system/identify"
	"github.com/dep2p/relayd/internal/core/relay"
	"github.com/dep2p/relayd/internal/debug/introspect"
	"github.com/dep2p/relayd/internal/util/logger"
)

var log = logger.Logger("app")

// ErrNotBuilt Build 之前调用了 Start
var ErrNotBuilt = errors.New("app: not built")

// Bootstrap 应用引导程序
//
// Bootstrap 负责：
// - 校验配置
// - 组装 fx 模块
// - 管理应用生命周期
type Bootstrap struct {
	config  *config.Config
	options options
	fxApp   *fx.App
	runtime Runtime

	stopOnce sync.Once
	stopErr  error
}

// NewBootstrap 创建引导程序
func NewBootstrap(cfg *config.Config, opts ...Option) *Bootstrap {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Bootstrap{
		config:  cfg,
		options: o,
	}
}

// Build 构建 fx 应用（不启动）
func (b *Bootstrap) Build() error {
	if err := b.config.Validate(); err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}

	fxLogger := b.options.fxLogger
	if fxLogger == nil {
		fxLogger = zap.NewNop()
	}

	app := fx.New(
		fx.Supply(b.config),
		Modules(),
		fx.Options(b.options.fxOptions...),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: fxLogger}
		}),
		fx.Populate(
			&b.runtime.Host,
			&b.runtime.Relay,
			&b.runtime.Identify,
			&b.runtime.Introspect,
		),
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("组装模块失败: %w", err)
	}
	b.fxApp = app
	return nil
}

// Start 启动应用，返回运行时句柄
func (b *Bootstrap) Start(ctx context.Context) (*Runtime, error) {
	if b.fxApp == nil {
		return nil, ErrNotBuilt
	}

	startCtx, cancel := context.WithTimeout(ctx, b.options.startTimeout)
	defer cancel()

	if err := b.fxApp.Start(startCtx); err != nil {
		return nil, fmt.Errorf("启动应用失败: %w", err)
	}

	log.Info("relayd 已启动",
		"peer", b.runtime.Host.ID().String(),
		"transport", b.config.Transport.Kind)
	b.runtime.stop = b.Stop
	return &b.runtime, nil
}

// Stop 停止应用，触发各模块 OnStop，重复调用返回第一次的结果
func (b *Bootstrap) Stop(ctx context.Context) error {
	if b.fxApp == nil {
		return nil
	}

	b.stopOnce.Do(func() {
		stopCtx, cancel := context.WithTimeout(ctx, b.options.stopTimeout)
		defer cancel()
		b.stopErr = b.fxApp.Stop(stopCtx)
	})
	return b.stopErr
}

// Done 返回 fx 的退出信号通道（SIGINT / SIGTERM）
func (b *Bootstrap) Done() <-chan fx.ShutdownSignal {
	if b.fxApp == nil {
		return nil
	}
	return b.fxApp.Wait()
}

// Runtime 已启动的 relayd 运行时
type Runtime struct {
	Host     *host.Host
	Relay    *relay.Service
	Identify *identify.Service

	// Introspect 未启用诊断服务时为 nil
	Introspect *introspect.Server

	stop func(ctx context.Context) error
}

// Stop 停止运行时
func (r *Runtime) Stop(ctx context.Context) error {
	if r.stop == nil {
		return nil
	}
	return r.stop(ctx)
}

// Run 启动应用并阻塞，直到 ctx 结束或收到退出信号，然后优雅关闭
//
// onStart 在启动完成后调用，可为 nil。
func Run(ctx context.Context, b *Bootstrap, onStart func(*Runtime)) error {
	if err := b.Build(); err != nil {
		return err
	}
	rt, err := b.Start(ctx)
	if err != nil {
		return err
	}
	if onStart != nil {
		onStart(rt)
	}

	select {
	case sig := <-b.Done():
		log.Info("收到信号，正在关闭", "signal", sig.Signal.String())
	case <-ctx.Done():
		log.Info("上下文结束，正在关闭")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return rt.Stop(stopCtx)
}
