//go:build unix

package server

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/Trinoooo/eggie_ae/ae"
	"github.com/Trinoooo/eggie_ae/consts"
	"github.com/Trinoooo/eggie_ae/errs"
	"github.com/Trinoooo/eggie_ae/server/connections"
	"github.com/Trinoooo/eggie_ae/server/logs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	ioBufLen           = 16 * consts.KB
	maxQueryBufLen     = 64 * consts.KB
	maxWritesPerEvent  = 64 * consts.KB
	maxAcceptsPerCall  = 1000
	errMaxClientsReply = "-ERR max number of clients reached\r\n"
)

type client struct {
	id              int64
	fd              int
	conn            connections.IConnection
	querybuf        []byte
	reply           []byte
	timers          map[int64]struct{} // 尚未触发的 AFTER 定时器
	lastInteraction time.Time
	closeAfterReply bool
	pendingWrite    bool
	closed          bool
}

func (c *client) String() string {
	return fmt.Sprintf("id=%d fd=%d addr=%v", c.id, c.fd, c.conn.RemoteAddr())
}

func (srv *Server) createClient(conn connections.IConnection) {
	srv.nextClientId++
	c := &client{
		id:              srv.nextClientId,
		fd:              conn.RawFd(),
		conn:            conn,
		timers:          make(map[int64]struct{}),
		lastInteraction: time.Now(),
	}

	if err := srv.el.CreateFileEvent(c.fd, ae.Readable, srv.readQueryFromClient, nil, c); err != nil {
		logs.Warn("register client failed", zap.Int(consts.LogFieldFd, c.fd), zap.Error(err))
		srv.metrics.ConnectionRejectCounter.Inc()
		// 尽力告知客户端，写失败也无所谓
		_, _ = conn.Write([]byte(errMaxClientsReply))
		_ = conn.Close()
		return
	}

	srv.clients[c.fd] = c
	srv.stat.connectionsReceived++
	srv.metrics.ConnectedClients.Set(float64(len(srv.clients)))
	logs.Debug("client connected", zap.Int64(consts.LogFieldParams, c.id), zap.Int(consts.LogFieldFd, c.fd), zap.Stringer(consts.LogFieldAddr, conn.RemoteAddr()))
}

// freeClient 注销事件、取消未触发的定时器并关闭连接，可重复调用
func (srv *Server) freeClient(c *client) {
	if c.closed {
		return
	}
	c.closed = true

	srv.el.DeleteFileEvent(c.fd, ae.Readable|ae.Writable)
	for id := range c.timers {
		// finalizer 会从 c.timers 中删除 id
		_ = srv.el.DeleteTimeEvent(id)
	}
	if err := c.conn.Close(); err != nil {
		logs.Warn("close client failed", zap.Int(consts.LogFieldFd, c.fd), zap.Error(err))
	}
	if srv.clients[c.fd] == c {
		delete(srv.clients, c.fd)
	}
	srv.metrics.ConnectedClients.Set(float64(len(srv.clients)))
	logs.Debug("client closed", zap.Int64(consts.LogFieldParams, c.id), zap.Int(consts.LogFieldFd, c.fd))
}

func (srv *Server) acceptHandler(el *ae.EventLoop, fd int, clientData any, mask ae.Mask) {
	for max := maxAcceptsPerCall; max > 0; max-- {
		conn, err := srv.listener.Accept()
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN):
				return
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			default:
				e := errs.NewAcceptErr().WithErr(err)
				logs.Warn(e.Error(), zap.Int(consts.LogFieldFd, fd))
				return
			}
		}
		srv.metrics.ConnectionAcceptCounter.Inc()

		if !srv.limiter.Allow() {
			srv.metrics.ConnectionRejectCounter.Inc()
			logs.Warn("accept rate limited", zap.Stringer(consts.LogFieldAddr, conn.RemoteAddr()))
			_ = conn.Close()
			continue
		}
		srv.createClient(conn)
	}
}

func (srv *Server) readQueryFromClient(el *ae.EventLoop, fd int, clientData any, mask ae.Mask) {
	c := clientData.(*client)
	n, err := c.conn.Read(srv.readBuf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return
		}
		e := errs.NewReadSocketErr().WithErr(err)
		logs.Debug(e.Error(), zap.Int(consts.LogFieldFd, fd))
		srv.freeClient(c)
		return
	}
	if n == 0 {
		srv.freeClient(c)
		return
	}

	c.lastInteraction = time.Now()
	c.querybuf = append(c.querybuf, srv.readBuf[:n]...)
	srv.processInputBuffer(c)

	if !c.closed && !c.closeAfterReply && len(c.querybuf) > maxQueryBufLen {
		e := errs.NewProtocolErr().WithErr(errors.New("query buffer too big"))
		logs.Warn(e.Error(), zap.Int(consts.LogFieldFd, fd), zap.Int(consts.LogFieldCount, len(c.querybuf)))
		c.querybuf = nil
		srv.addReplyError(c, "query too long")
		c.closeAfterReply = true
	}
}

// processInputBuffer 处理缓冲区中所有完整的行
func (srv *Server) processInputBuffer(c *client) {
	for !c.closed && !c.closeAfterReply {
		idx := bytes.IndexByte(c.querybuf, '\n')
		if idx < 0 {
			return
		}
		line := strings.TrimRight(string(c.querybuf[:idx]), "\r")
		c.querybuf = c.querybuf[idx+1:]

		argv := strings.Fields(line)
		if len(argv) == 0 {
			continue
		}
		srv.processCommand(c, argv)
	}
}

func (srv *Server) addReply(c *client, data string) {
	if c.closed {
		return
	}
	c.reply = append(c.reply, data...)
	if !c.pendingWrite {
		c.pendingWrite = true
		srv.pending = append(srv.pending, c)
	}
}

func (srv *Server) addReplyStatus(c *client, status string) {
	srv.addReply(c, "+"+status+"\r\n")
}

func (srv *Server) addReplyError(c *client, msg string) {
	srv.addReply(c, "-ERR "+msg+"\r\n")
}

func (srv *Server) addReplyBulk(c *client, data string) {
	srv.addReply(c, fmt.Sprintf("$%d\r\n%s\r\n", len(data), data))
}

// writeToClient 尽量写出缓冲的回复，返回客户端是否仍然存活
func (srv *Server) writeToClient(c *client, handlerInstalled bool) bool {
	written := 0
	for len(c.reply) > 0 {
		n, err := c.conn.Write(c.reply)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				break
			}
			e := errs.NewWriteSocketErr().WithErr(err)
			logs.Debug(e.Error(), zap.Int(consts.LogFieldFd, c.fd))
			srv.freeClient(c)
			return false
		}
		c.reply = c.reply[n:]
		written += n
		if written > maxWritesPerEvent {
			break
		}
	}
	if written > 0 {
		c.lastInteraction = time.Now()
	}

	if len(c.reply) == 0 {
		c.reply = nil
		if handlerInstalled {
			srv.el.DeleteFileEvent(c.fd, ae.Writable)
		}
		if c.closeAfterReply {
			srv.freeClient(c)
			return false
		}
	}
	return true
}

func (srv *Server) sendReplyToClient(el *ae.EventLoop, fd int, clientData any, mask ae.Mask) {
	srv.writeToClient(clientData.(*client), true)
}

// handleClientsWithPendingWrites 在进入等待前直接写回复，写不完的才注册可写事件
func (srv *Server) handleClientsWithPendingWrites() {
	pending := srv.pending
	srv.pending = nil
	for _, c := range pending {
		c.pendingWrite = false
		if c.closed {
			continue
		}
		// 已经注册了可写事件，交给写回调处理
		if srv.el.GetFileEvents(c.fd)&ae.Writable != 0 {
			continue
		}
		if !srv.writeToClient(c, false) || len(c.reply) == 0 {
			continue
		}

		mask := ae.Writable
		if srv.cfg.WriteBarrier {
			mask |= ae.Barrier
		}
		if err := srv.el.CreateFileEvent(c.fd, mask, nil, srv.sendReplyToClient, c); err != nil {
			logs.Warn("install write handler failed", zap.Int(consts.LogFieldFd, c.fd), zap.Error(err))
			srv.freeClient(c)
		}
	}
}
