//go:build unix

package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Trinoooo/eggie_ae/ae"
	"github.com/Trinoooo/eggie_ae/consts"
	"github.com/Trinoooo/eggie_ae/server/logs"
	"go.uber.org/zap"
)

type commandProc func(srv *Server, c *client, argv []string)

type command struct {
	name  string
	arity int // > 0 参数个数必须相等，< 0 至少 -arity 个（都包含命令名）
	proc  commandProc
}

var commandTable = map[string]*command{}

func init() {
	for _, cmd := range []*command{
		{name: "ping", arity: -1, proc: pingCommand},
		{name: "echo", arity: 2, proc: echoCommand},
		{name: "time", arity: 1, proc: timeCommand},
		{name: "info", arity: 1, proc: infoCommand},
		{name: "after", arity: -3, proc: afterCommand},
		{name: "quit", arity: 1, proc: quitCommand},
	} {
		commandTable[cmd.name] = cmd
	}
}

func (srv *Server) processCommand(c *client, argv []string) {
	name := strings.ToLower(argv[0])
	cmd, ok := commandTable[name]
	if !ok {
		srv.addReplyError(c, fmt.Sprintf("unknown command '%s'", argv[0]))
		return
	}
	if (cmd.arity > 0 && len(argv) != cmd.arity) || (cmd.arity < 0 && len(argv) < -cmd.arity) {
		srv.addReplyError(c, fmt.Sprintf("wrong number of arguments for '%s' command", cmd.name))
		return
	}

	cmd.proc(srv, c, argv)
	srv.stat.commandsProcessed++
	srv.metrics.CommandsProcessed.WithLabelValues(cmd.name).Inc()
}

func pingCommand(srv *Server, c *client, argv []string) {
	if len(argv) == 1 {
		srv.addReplyStatus(c, "PONG")
		return
	}
	srv.addReplyBulk(c, strings.Join(argv[1:], " "))
}

func echoCommand(srv *Server, c *client, argv []string) {
	srv.addReplyBulk(c, argv[1])
}

func timeCommand(srv *Server, c *client, argv []string) {
	now := time.Now()
	srv.addReplyStatus(c, fmt.Sprintf("%d %d", now.Unix(), now.Nanosecond()/int(time.Microsecond)))
}

func infoCommand(srv *Server, c *client, argv []string) {
	srv.addReplyBulk(c, srv.info().String())
}

func quitCommand(srv *Server, c *client, argv []string) {
	srv.addReplyStatus(c, "OK")
	c.closeAfterReply = true
}

type afterTask struct {
	id  int64
	c   *client
	msg string
}

// afterCommand AFTER <ms> <msg...>：ms 毫秒后回复 msg，连接关闭时取消
func afterCommand(srv *Server, c *client, argv []string) {
	ms, err := strconv.ParseInt(argv[1], 10, 64)
	if err != nil || ms < 0 {
		srv.addReplyError(c, "timeout is not a non-negative integer")
		return
	}

	task := &afterTask{c: c, msg: strings.Join(argv[2:], " ")}
	task.id = srv.el.CreateTimeEvent(ms, srv.afterProc, task, srv.afterFinalizer)
	c.timers[task.id] = struct{}{}
	srv.addReplyStatus(c, fmt.Sprintf("SCHEDULED %d", task.id))
}

func (srv *Server) afterProc(el *ae.EventLoop, id int64, clientData any) int {
	task := clientData.(*afterTask)
	srv.addReplyStatus(task.c, task.msg)
	return ae.NoMore
}

func (srv *Server) afterFinalizer(el *ae.EventLoop, clientData any) {
	task := clientData.(*afterTask)
	delete(task.c.timers, task.id)
	logs.Debug("after task finalized", zap.Int64(consts.LogFieldTimerId, task.id), zap.Int(consts.LogFieldFd, task.c.fd))
}
