package app

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/relayd/internal/core/relay"
)

// eventBuffer 事件日志订阅的缓冲
const eventBuffer = 256

// logRelayEvents 记录每个中继事件
//
// 停止时先关闭中继服务（Shutdown 幂等），再取消订阅，
// 关闭期间产生的 CircuitClosed 事件因此也会被记录。
func logRelayEvents(lc fx.Lifecycle, svc *relay.Service) {
	var (
		unsubscribe func()
		done        = make(chan struct{})
	)
	events := log.With("component", "relay-events")

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ch <-chan relay.Event
			ch, unsubscribe = svc.Subscribe(eventBuffer)
			go func() {
				defer close(done)
				for ev := range ch {
					events.Info(ev.String(), "event", ev.Type.String())
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if unsubscribe == nil {
				return nil
			}
			svc.Shutdown()
			unsubscribe()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
