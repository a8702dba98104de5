//go:build unix

package server

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Trinoooo/eggie_ae/ae"
	"github.com/Trinoooo/eggie_ae/consts"
	"github.com/Trinoooo/eggie_ae/errs"
	"github.com/Trinoooo/eggie_ae/server/connections"
	"github.com/Trinoooo/eggie_ae/server/logs"
	"github.com/Trinoooo/eggie_ae/utils"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Server 单个事件循环上的行协议服务，除 Close 外所有状态只在循环 goroutine 中访问
type Server struct {
	cfg          *Config
	el           *ae.EventLoop
	listener     connections.IListener
	clients      map[int]*client
	pending      []*client // 有待写回复的客户端
	readBuf      []byte
	limiter      *rate.Limiter
	metrics      *MetricsHelper
	cronId       int64
	cronloops    int64
	nextClientId int64
	startTime    time.Time
	stat         stat
	closing      *atomic.Bool
}

type stat struct {
	connectionsReceived int64
	commandsProcessed   int64
}

func NewServer(cfg *Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:       cfg,
		clients:   make(map[int]*client),
		readBuf:   make([]byte, ioBufLen),
		limiter:   rate.NewLimiter(rate.Limit(cfg.MaxAcceptsPerSecond), cfg.MaxAcceptsPerSecond),
		metrics:   NewMetricsHelper(),
		startTime: time.Now(),
		closing:   atomic.NewBool(false),
	}

	el, err := ae.NewEventLoop(cfg.SetSize, ae.WithLogger(logs.Logger()), ae.WithMetrics(srv.metrics.Loop))
	if err != nil {
		return nil, err
	}
	srv.el = el

	srv.listener, err = connections.Listen(cfg.Host, cfg.Port)
	if err != nil {
		_ = el.Close()
		e := errs.NewListenErr().WithErr(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldAddr, net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))))
		return nil, e
	}

	if err = el.CreateFileEvent(srv.listener.RawFd(), ae.Readable, srv.acceptHandler, nil, nil); err != nil {
		_ = srv.listener.Close()
		_ = el.Close()
		return nil, errors.Wrap(err, "register listener")
	}

	srv.cronId = el.CreateTimeEvent(0, srv.serverCron, nil, nil)
	el.SetBeforeSleepProc(srv.beforeSleep)

	if cfg.Metrics.PushUrl != "" {
		srv.metrics.StartPush(cfg.Metrics.PushUrl, cfg.Metrics.PushInterval)
	}

	logs.Info("server created",
		zap.Stringer(consts.LogFieldAddr, srv.listener.Addr()),
		zap.String(consts.LogFieldApi, el.GetApiName()),
		zap.String(consts.LogFieldLoop, el.Id()),
	)
	return srv, nil
}

// Addr 监听地址，端口配置为 0 时可以从这里得到实际端口
func (srv *Server) Addr() net.Addr {
	return srv.listener.Addr()
}

func (srv *Server) Metrics() *MetricsHelper {
	return srv.metrics
}

// Serve 运行事件循环直到 Close 被调用，返回前释放所有连接和循环。
// 回调 panic 时记录日志后继续服务。
func (srv *Server) Serve() error {
	logs.Info("server start serving", zap.Stringer(consts.LogFieldAddr, srv.listener.Addr()))

	var err error
	for {
		var panicked bool
		panicked, err = srv.runLoop()
		if !panicked || srv.closing.Load() {
			break
		}
	}

	srv.teardown()
	return err
}

func (srv *Server) runLoop() (bool, error) {
	// panic 退出 Main 时停止标记已被清除，这里补上 Close 的请求
	if srv.closing.Load() {
		return false, nil
	}

	var err error
	r := utils.Recover(func() {
		err = srv.el.Main()
	})
	if r != nil {
		logs.Error("callback panic", zap.Any(consts.LogFieldErr, r), zap.Stack("stack"))
		return true, nil
	}
	return false, err
}

// Close 请求停止服务，可以在任意 goroutine 调用
func (srv *Server) Close() error {
	srv.closing.Store(true)
	srv.el.Stop()
	return nil
}

func (srv *Server) teardown() {
	for _, c := range srv.clients {
		srv.freeClient(c)
	}
	srv.pending = nil

	srv.el.DeleteFileEvent(srv.listener.RawFd(), ae.Readable)
	if err := srv.listener.Close(); err != nil {
		logs.Warn("close listener failed", zap.Error(err))
	}
	if err := srv.el.Close(); err != nil {
		logs.Warn("close event loop failed", zap.Error(err))
	}
	srv.metrics.Close()
	logs.Info("server stopped")
}

func (srv *Server) beforeSleep(el *ae.EventLoop) {
	srv.handleClientsWithPendingWrites()
}

type infoSnapshot struct {
	Api                 string
	LoopId              string
	SetSize             int
	MaxFd               int
	ConnectedClients    int
	TimeEvents          int
	ConnectionsReceived int64
	CommandsProcessed   int64
	UptimeInSeconds     int64
	Hz                  int
}

func (srv *Server) info() *infoSnapshot {
	return &infoSnapshot{
		Api:                 srv.el.GetApiName(),
		LoopId:              srv.el.Id(),
		SetSize:             srv.el.GetSetSize(),
		MaxFd:               srv.el.MaxFd(),
		ConnectedClients:    len(srv.clients),
		TimeEvents:          srv.el.TimeEventCount(),
		ConnectionsReceived: srv.stat.connectionsReceived,
		CommandsProcessed:   srv.stat.commandsProcessed,
		UptimeInSeconds:     int64(time.Since(srv.startTime) / time.Second),
		Hz:                  srv.cfg.Hz,
	}
}

func (info *infoSnapshot) String() string {
	var sb strings.Builder
	sb.WriteString("# Server\r\n")
	fmt.Fprintf(&sb, "multiplexing_api:%s\r\n", info.Api)
	fmt.Fprintf(&sb, "loop_id:%s\r\n", info.LoopId)
	fmt.Fprintf(&sb, "setsize:%d\r\n", info.SetSize)
	fmt.Fprintf(&sb, "maxfd:%d\r\n", info.MaxFd)
	fmt.Fprintf(&sb, "hz:%d\r\n", info.Hz)
	fmt.Fprintf(&sb, "uptime_in_seconds:%d\r\n", info.UptimeInSeconds)
	sb.WriteString("# Stats\r\n")
	fmt.Fprintf(&sb, "connected_clients:%d\r\n", info.ConnectedClients)
	fmt.Fprintf(&sb, "time_events:%d\r\n", info.TimeEvents)
	fmt.Fprintf(&sb, "total_connections_received:%d\r\n", info.ConnectionsReceived)
	fmt.Fprintf(&sb, "total_commands_processed:%d\r\n", info.CommandsProcessed)
	return sb.String()
}
