//go:build unix

package server

import (
	"time"

	"github.com/Trinoooo/eggie_ae/ae"
	"github.com/Trinoooo/eggie_ae/consts"
	"github.com/Trinoooo/eggie_ae/server/logs"
	"github.com/luci/go-render/render"
	"go.uber.org/zap"
)

// serverCron 每秒执行 hz 次：关闭空闲连接，刷新指标，定期输出统计
func (srv *Server) serverCron(el *ae.EventLoop, id int64, clientData any) int {
	srv.cronloops++
	now := time.Now()

	if srv.cfg.IdleTimeout > 0 {
		closed := 0
		for _, c := range srv.clients {
			// 还有 AFTER 等待回复的连接不算空闲
			if len(c.timers) > 0 || c.closeAfterReply {
				continue
			}
			if now.Sub(c.lastInteraction) > srv.cfg.IdleTimeout {
				srv.freeClient(c)
				closed++
			}
		}
		if closed > 0 {
			logs.Debug("closed idle clients", zap.Int(consts.LogFieldCount, closed))
		}
	}

	srv.metrics.ConnectedClients.Set(float64(len(srv.clients)))

	// 大约每 5 秒一次
	if srv.cronloops%int64(srv.cfg.Hz*5) == 0 {
		logs.Debug("server stats", zap.String(consts.LogFieldValue, render.Render(srv.info())))
	}

	return 1000 / srv.cfg.Hz
}
