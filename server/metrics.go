package server

import (
	"time"

	"github.com/Trinoooo/eggie_ae/ae"
	"github.com/Trinoooo/eggie_ae/consts"
	"github.com/Trinoooo/eggie_ae/server/logs"
	"github.com/bytedance/gopkg/util/gopool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const metricsNamespace = "eggie_ae"

type MetricsHelper struct {
	ConnectionAcceptCounter prometheus.Counter     // socket accept qps
	ConnectionRejectCounter prometheus.Counter     // 限流或超出 setsize 被拒绝的连接
	ConnectedClients        prometheus.Gauge       // 当前连接数
	CommandsProcessed       *prometheus.CounterVec // 按命令统计
	Loop                    *ae.Metrics

	registry *prometheus.Registry
	stop     chan struct{}
}

func NewMetricsHelper() *MetricsHelper {
	m := &MetricsHelper{
		ConnectionAcceptCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connection_accept_counter",
		}),
		ConnectionRejectCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connection_reject_counter",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected_clients",
		}),
		CommandsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_processed_total",
		}, []string{"command"}),
		Loop:     ae.NewMetrics(metricsNamespace),
		registry: prometheus.NewRegistry(),
		stop:     make(chan struct{}),
	}

	m.registry.MustRegister(
		m.ConnectionAcceptCounter,
		m.ConnectionRejectCounter,
		m.ConnectedClients,
		m.CommandsProcessed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.Loop.MustRegister(m.registry)
	return m
}

func (m *MetricsHelper) Registry() *prometheus.Registry {
	return m.registry
}

// StartPush 每隔 interval 推送一次到 pushgateway，直到 Close
func (m *MetricsHelper) StartPush(url string, interval time.Duration) {
	pusher := push.New(url, metricsNamespace).Gatherer(m.registry)
	gopool.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				if err := pusher.Add(); err != nil {
					logs.Warn("prometheus pusher push failed", zap.String(consts.LogFieldAddr, url), zap.Error(err))
				}
			}
		}
	})
	logs.Info("metrics push started", zap.String(consts.LogFieldAddr, url), zap.Duration(consts.LogFieldValue, interval))
}

func (m *MetricsHelper) Close() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}
