package ae

import (
	"time"

	"github.com/Trinoooo/eggie_ae/ae/poller"
	"go.uber.org/zap"
)

type Option func(el *EventLoop)

// WithPoller 使用指定的多路复用后端，不再按平台探测
func WithPoller(p poller.Poller) Option {
	return func(el *EventLoop) {
		el.apidata = p
	}
}

// WithClock 替换时间事件使用的时钟
func WithClock(now func() time.Time) Option {
	return func(el *EventLoop) {
		el.now = now
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(el *EventLoop) {
		el.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(el *EventLoop) {
		el.metrics = m
	}
}
