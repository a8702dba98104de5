//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package poller

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type KqueuePoller struct {
	mu     sync.Mutex // 保护唤醒管道关闭
	kq     int
	wakeR  int // 唤醒管道读端
	wakeW  int // 唤醒管道写端
	buf    []byte
	events []unix.Kevent_t
	merged map[int]int // fd -> 本次 Wait 结果中的下标，合并同一 fd 的读写事件
}

// NewPoller 根据平台选择多路复用实现，bsd 系列为 kqueue
func NewPoller(setsize int) (Poller, error) {
	return NewKqueuePoller(setsize)
}

func NewKqueuePoller(setsize int) (*KqueuePoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)

	var p [2]int
	if err = unix.Pipe(p[:]); err != nil {
		_ = unix.Close(kq)
		return nil, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err = unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(kq)
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return nil, err
		}
	}

	changes := make([]unix.Kevent_t, 1)
	unix.SetKevent(&changes[0], p[0], unix.EVFILT_READ, unix.EV_ADD)
	if _, err = unix.Kevent(kq, changes, nil, nil); err != nil {
		_ = unix.Close(kq)
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
		return nil, err
	}

	return &KqueuePoller{
		kq:     kq,
		wakeR:  p[0],
		wakeW:  p[1],
		buf:    make([]byte, 64),
		events: make([]unix.Kevent_t, setsize+1),
		merged: make(map[int]int),
	}, nil
}

func (kp *KqueuePoller) AddInterest(fd int, old, add Mask) error {
	changes := make([]unix.Kevent_t, 0, 2)
	if add&Readable != 0 {
		changes = append(changes, newKevent(fd, unix.EVFILT_READ, unix.EV_ADD))
	}
	if add&Writable != 0 {
		changes = append(changes, newKevent(fd, unix.EVFILT_WRITE, unix.EV_ADD))
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(kp.kq, changes, nil, nil)
	return err
}

func (kp *KqueuePoller) RemoveInterest(fd int, old, del Mask) error {
	changes := make([]unix.Kevent_t, 0, 2)
	if del&old&Readable != 0 {
		changes = append(changes, newKevent(fd, unix.EVFILT_READ, unix.EV_DELETE))
	}
	if del&old&Writable != 0 {
		changes = append(changes, newKevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(kp.kq, changes, nil, nil)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		// 描述符已被调用方关闭，内核已自动移除
		return nil
	}
	return err
}

func (kp *KqueuePoller) Wait(timeout time.Duration, events []Pevent) (int, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}

	n, err := unix.Kevent(kp.kq, nil, kp.events, ts)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}

	clear(kp.merged)
	count := 0
	for i := 0; i < n; i++ {
		kevt := &kp.events[i]
		fd := int(kevt.Ident)
		if fd == kp.wakeR {
			for {
				if _, e := unix.Read(kp.wakeR, kp.buf); e != nil {
					break
				}
			}
			continue
		}

		var mask Mask
		switch kevt.Filter {
		case unix.EVFILT_READ:
			mask = Readable
		case unix.EVFILT_WRITE:
			mask = Writable
		}
		if kevt.Flags&unix.EV_ERROR != 0 {
			mask |= Readable | Writable
		}

		if idx, ok := kp.merged[fd]; ok {
			events[idx].Mask |= mask
			continue
		}
		if count >= len(events) {
			continue
		}
		kp.merged[fd] = count
		events[count] = Pevent{Fd: fd, Mask: mask}
		count++
	}
	return count, nil
}

func (kp *KqueuePoller) Resize(setsize int) error {
	kp.events = make([]unix.Kevent_t, setsize+1)
	return nil
}

func (kp *KqueuePoller) Wakeup() error {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	if kp.wakeW == -1 {
		return ErrPollerClosed
	}
	_, err := unix.Write(kp.wakeW, []byte{1})
	if errors.Is(err, unix.EAGAIN) {
		// 管道已满说明已有未消费的唤醒
		return nil
	}
	return err
}

func (kp *KqueuePoller) Name() string {
	return "kqueue"
}

func (kp *KqueuePoller) Close() error {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	if kp.kq == -1 {
		return nil
	}
	var err error
	for _, fd := range []int{kp.kq, kp.wakeR, kp.wakeW} {
		if e := unix.Close(fd); e != nil && err == nil {
			err = e
		}
	}
	kp.kq, kp.wakeR, kp.wakeW = -1, -1, -1
	return err
}

func newKevent(fd, filter, flags int) unix.Kevent_t {
	var kevt unix.Kevent_t
	unix.SetKevent(&kevt, fd, filter, flags)
	return kevt
}
