//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package poller

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// WaitFd 同步等待单个描述符就绪，不经过事件循环。
// 超时返回 None, nil。
func WaitFd(fd int, mask Mask, timeout time.Duration) (Mask, error) {
	pfd := []unix.PollFd{{Fd: int32(fd)}}
	if mask&Readable != 0 {
		pfd[0].Events |= unix.POLLIN
	}
	if mask&Writable != 0 {
		pfd[0].Events |= unix.POLLOUT
	}

	for {
		n, err := unix.Poll(pfd, timeoutMs(timeout))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return None, err
		}
		if n == 0 {
			return None, nil
		}
		break
	}

	var ready Mask
	if pfd[0].Revents&unix.POLLIN != 0 {
		ready |= Readable
	}
	if pfd[0].Revents&(unix.POLLOUT|unix.POLLERR|unix.POLLHUP) != 0 {
		ready |= Writable
	}
	return ready, nil
}
