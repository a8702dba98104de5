package ae

import (
	"github.com/Trinoooo/eggie_ae/consts"
	"github.com/Trinoooo/eggie_ae/errs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type fileEvent struct {
	mask       Mask
	rfileProc  FileProc
	wfileProc  FileProc
	clientData any // 调用方持有，循环只借用
}

// fileEvents 以描述符为下标的注册表，长度即 setsize
type fileEvents struct {
	events []fileEvent
	maxfd  int // 当前注册的最大描述符，没有时为 -1
}

func newFileEvents(setsize int) *fileEvents {
	return &fileEvents{
		events: make([]fileEvent, setsize),
		maxfd:  -1,
	}
}

func (fes *fileEvents) get(fd int) *fileEvent {
	if fd < 0 || fd >= len(fes.events) {
		return nil
	}
	return &fes.events[fd]
}

func (fes *fileEvents) updateMaxfd(fd int) {
	if fd != fes.maxfd {
		return
	}
	j := fes.maxfd - 1
	for ; j >= 0; j-- {
		if fes.events[j].mask != None {
			break
		}
	}
	fes.maxfd = j
}

func (fes *fileEvents) resize(setsize int) {
	events := make([]fileEvent, setsize)
	copy(events, fes.events)
	fes.events = events
}

// CreateFileEvent 注册描述符 fd 上 mask 对应的事件。
// 与已有注册合并：只替换 mask 中包含的方向的回调。
func (el *EventLoop) CreateFileEvent(fd int, mask Mask, rproc, wproc FileProc, clientData any) error {
	fe := el.files.get(fd)
	if fe == nil {
		e := errs.NewInvalidDescriptorErr()
		el.logger.Warn(e.Error(), zap.Int(consts.LogFieldFd, fd), zap.Int(consts.LogFieldValue, len(el.files.events)))
		return e
	}

	if (fe.mask|mask)&(Readable|Writable) == None ||
		(mask&Readable != 0 && rproc == nil) ||
		(mask&Writable != 0 && wproc == nil) {
		e := errs.NewInvalidParamErr()
		el.logger.Warn(e.Error(), zap.Int(consts.LogFieldFd, fd), zap.Int(consts.LogFieldMask, int(mask)))
		return e
	}

	if err := el.apidata.AddInterest(fd, fe.mask, mask); err != nil {
		return errs.NewBackendErr().WithErr(errors.Wrapf(err, "add interest fd %d", fd))
	}

	if fe.mask == None {
		el.metrics.fdRegistered()
	}
	fe.mask |= mask
	if mask&Readable != 0 {
		fe.rfileProc = rproc
	}
	if mask&Writable != 0 {
		fe.wfileProc = wproc
	}
	fe.clientData = clientData
	if fd > el.files.maxfd {
		el.files.maxfd = fd
	}
	return nil
}

// DeleteFileEvent 清除 fd 上 mask 对应的事件位，清除可写位时一并清除屏障位
func (el *EventLoop) DeleteFileEvent(fd int, mask Mask) {
	fe := el.files.get(fd)
	if fe == nil || fe.mask == None {
		return
	}

	if mask&Writable != 0 {
		mask |= Barrier
	}

	old := fe.mask
	if err := el.apidata.RemoveInterest(fd, old, mask); err != nil {
		el.logger.Warn("remove interest failed", zap.Int(consts.LogFieldFd, fd), zap.Int(consts.LogFieldMask, int(mask)), zap.Error(err))
	}

	fe.mask &^= mask
	if mask&Readable != 0 {
		fe.rfileProc = nil
	}
	if mask&Writable != 0 {
		fe.wfileProc = nil
	}
	if fe.mask&(Readable|Writable) == None {
		*fe = fileEvent{}
		el.metrics.fdUnregistered()
		el.files.updateMaxfd(fd)
	}
}

// GetFileEvents 返回 fd 当前注册的事件掩码，未注册时返回 None
func (el *EventLoop) GetFileEvents(fd int) Mask {
	fe := el.files.get(fd)
	if fe == nil {
		return None
	}
	return fe.mask
}
