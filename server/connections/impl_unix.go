//go:build unix

package connections

import (
	"fmt"
	"net"

	"github.com/libp2p/go-reuseport"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Connection 非阻塞的原始 socket，读写不经过 go runtime 的 netpoller
type Connection struct {
	fd         int
	localAddr  net.Addr
	remoteAddr net.Addr
}

func (c *Connection) Read(buf []byte) (int, error) {
	n, err := unix.Read(c.fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Connection) Write(buf []byte) (int, error) {
	n, err := unix.Write(c.fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Connection) Close() error {
	return unix.Close(c.fd)
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.remoteAddr
}

func (c *Connection) LocalAddr() net.Addr {
	return c.localAddr
}

func (c *Connection) RawFd() int {
	return c.fd
}

type Listener struct {
	conn *Connection
}

// Accept 没有待接受的连接时返回 EAGAIN
func (l *Listener) Accept() (IConnection, error) {
	socket, sa, err := unix.Accept(l.conn.fd)
	if err != nil {
		return nil, err
	}

	unix.CloseOnExec(socket)
	if err = unix.SetNonblock(socket, true); err != nil {
		_ = unix.Close(socket)
		return nil, err
	}
	_ = unix.SetsockoptInt(socket, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	return &Connection{
		fd:         socket,
		localAddr:  l.conn.localAddr,
		remoteAddr: sockaddrToTCPAddr(sa),
	}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.conn.localAddr
}

func (l *Listener) RawFd() int {
	return l.conn.fd
}

func (l *Listener) Close() error {
	return unix.Close(l.conn.fd)
}

// Listen 监听 host:port（SO_REUSEPORT），返回非阻塞的监听描述符
func Listen(host string, port int) (IListener, error) {
	ln, err := reuseport.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, errors.Wrap(err, "reuseport listen")
	}
	defer ln.Close()

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return nil, errors.Errorf("unexpected listener type %T", ln)
	}

	// File 返回 dup 出的描述符，关闭 ln 不影响它
	f, err := tcpLn.File()
	if err != nil {
		return nil, errors.Wrap(err, "listener file")
	}
	fd, err := unix.Dup(int(f.Fd()))
	_ = f.Close()
	if err != nil {
		return nil, errors.Wrap(err, "dup listener")
	}

	unix.CloseOnExec(fd)
	if err = unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrap(err, "set nonblock")
	}

	return &Listener{
		conn: &Connection{
			fd:        fd,
			localAddr: ln.Addr(),
		},
	}, nil
}

// sockaddrToTCPAddr converts a Sockaddr to a net.TCPAddr.
// Returns nil if conversion fails.
func sockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[0:]).To16(), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[0:]), Port: sa.Port}
	}
	return nil
}
