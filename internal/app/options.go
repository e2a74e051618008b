package app

import (
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Option Bootstrap 配置选项
type Option func(*options)

type options struct {
	fxOptions    []fx.Option
	fxLogger     *zap.Logger
	startTimeout time.Duration
	stopTimeout  time.Duration
}

func defaultOptions() options {
	return options{
		startTimeout: 30 * time.Second,
		stopTimeout:  30 * time.Second,
	}
}

// WithFxOptions 追加 fx 选项（测试中替换时钟等）
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) {
		o.fxOptions = append(o.fxOptions, opts...)
	}
}

// WithFxLogger 输出 fx 生命周期事件，默认丢弃
func WithFxLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.fxLogger = l
	}
}

// WithTimeouts 设置启动和停止超时
func WithTimeouts(start, stop time.Duration) Option {
	return func(o *options) {
		if start > 0 {
			o.startTimeout = start
		}
		if stop > 0 {
			o.stopTimeout = stop
		}
	}
}
