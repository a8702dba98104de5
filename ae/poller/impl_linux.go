//go:build linux

package poller

import (
	"errors"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

type EpollPoller struct {
	mu     sync.Mutex // 保护 efd 关闭
	epfd   int
	efd    int // eventfd，用于 Wakeup
	efdbuf []byte
	events []unix.EpollEvent
}

// NewPoller 根据平台选择多路复用实现，linux 下为 epoll
func NewPoller(setsize int) (Poller, error) {
	return NewEpollPoller(setsize)
}

func NewEpollPoller(setsize int) (*EpollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}

	if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(efd),
	}); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(efd)
		return nil, err
	}

	return &EpollPoller{
		epfd:   epfd,
		efd:    efd,
		efdbuf: make([]byte, 8),
		// 额外 1 个位置留给 eventfd
		events: make([]unix.EpollEvent, setsize+1),
	}, nil
}

func (ep *EpollPoller) AddInterest(fd int, old, add Mask) error {
	op := unix.EPOLL_CTL_MOD
	if old&(Readable|Writable) == None {
		op = unix.EPOLL_CTL_ADD
	}

	return unix.EpollCtl(ep.epfd, op, fd, &unix.EpollEvent{
		Events: toEpollEvents(old | add),
		Fd:     int32(fd),
	})
}

func (ep *EpollPoller) RemoveInterest(fd int, old, del Mask) error {
	remain := old &^ del
	if remain&(Readable|Writable) != None {
		return unix.EpollCtl(ep.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
			Events: toEpollEvents(remain),
			Fd:     int32(fd),
		})
	}

	// 内核 < 2.6.9 要求 DEL 时 event 非空
	err := unix.EpollCtl(ep.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		// 描述符已被调用方关闭，内核已自动移除
		return nil
	}
	return err
}

func (ep *EpollPoller) Wait(timeout time.Duration, events []Pevent) (int, error) {
	n, err := unix.EpollWait(ep.epfd, ep.events, timeoutMs(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for i := 0; i < n && count < len(events); i++ {
		ev := &ep.events[i]
		if int(ev.Fd) == ep.efd {
			_, _ = unix.Read(ep.efd, ep.efdbuf) // simply consume
			continue
		}

		var mask Mask
		if ev.Events&unix.EPOLLIN != 0 {
			mask |= Readable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			mask |= Writable
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			mask |= Readable | Writable
		}
		events[count] = Pevent{Fd: int(ev.Fd), Mask: mask}
		count++
	}
	return count, nil
}

func (ep *EpollPoller) Resize(setsize int) error {
	ep.events = make([]unix.EpollEvent, setsize+1)
	return nil
}

func (ep *EpollPoller) Wakeup() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.efd == -1 {
		return ErrPollerClosed
	}
	var x uint64 = 1
	// eventfd has set with EFD_NONBLOCK
	_, err := unix.Write(ep.efd, (*(*[8]byte)(unsafe.Pointer(&x)))[:])
	if errors.Is(err, unix.EAGAIN) {
		// 计数器已满说明已有未消费的唤醒
		return nil
	}
	return err
}

func (ep *EpollPoller) Name() string {
	return "epoll"
}

func (ep *EpollPoller) Close() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.epfd == -1 {
		return nil
	}
	err := unix.Close(ep.epfd)
	if e := unix.Close(ep.efd); err == nil {
		err = e
	}
	ep.epfd = -1
	ep.efd = -1
	return err
}

func toEpollEvents(mask Mask) uint32 {
	var events uint32
	if mask&Readable != 0 {
		events |= unix.EPOLLIN
	}
	if mask&Writable != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}
