package ae

import (
	"time"

	"github.com/Trinoooo/eggie_ae/ae/poller"
	"github.com/Trinoooo/eggie_ae/consts"
	"github.com/Trinoooo/eggie_ae/errs"
	"github.com/Trinoooo/eggie_ae/logs"
	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type EventLoop struct {
	id          string
	files       *fileEvents
	fired       []poller.Pevent
	ready       []poller.Pevent // 本轮就绪事件的快照，回调中的 ResizeSetSize 会替换 fired
	deferred    *queue.Queue // 设置了屏障的描述符，写回调推迟到本轮文件事件末尾
	timers      *timeEvents
	stop        *atomic.Bool
	apidata     poller.Poller
	beforesleep BeforeSleepProc
	aftersleep  BeforeSleepProc
	now         func() time.Time
	logger      *zap.Logger
	metrics     *Metrics
}

// NewEventLoop 创建可追踪 setsize 个描述符（0 ~ setsize-1）的事件循环。
// 多路复用后端创建失败时不返回任何半初始化的循环。
func NewEventLoop(setsize int, opts ...Option) (*EventLoop, error) {
	if setsize <= 0 {
		e := errs.NewInvalidParamErr()
		logs.Logger.Error(e.Error(), zap.String(consts.LogFieldParams, "setsize"), zap.Int(consts.LogFieldValue, setsize))
		return nil, e
	}

	el := &EventLoop{
		id:       uuid.NewString(),
		files:    newFileEvents(setsize),
		fired:    make([]poller.Pevent, setsize),
		deferred: queue.New(),
		stop:     atomic.NewBool(false),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(el)
	}
	if el.logger == nil {
		el.logger = logs.Logger
	}
	el.logger = el.logger.With(zap.String(consts.Component, consts.Ae), zap.String(consts.LogFieldLoop, el.id))

	if el.apidata == nil {
		p, err := poller.NewPoller(setsize)
		if err != nil {
			e := errs.NewAllocationErr().WithErr(errors.Wrap(err, "create poller"))
			el.logger.Error(e.Error())
			return nil, e
		}
		el.apidata = p
	}
	el.timers = newTimeEvents(el.now())

	el.logger.Info("event loop created", zap.String(consts.LogFieldApi, el.apidata.Name()), zap.Int(consts.LogFieldValue, setsize))
	return el, nil
}

// Close 释放事件循环：剩余时间事件按插入顺序执行 finalizer，然后关闭后端
func (el *EventLoop) Close() error {
	ids := make([]int64, 0, el.timers.len())
	for _, te := range el.timers.list {
		if te.id != DeletedEventId {
			ids = append(ids, te.id)
		}
	}
	for _, id := range ids {
		el.removeTimeEvent(id)
	}

	err := el.apidata.Close()
	el.files = newFileEvents(0)
	el.fired = nil
	el.logger.Info("event loop closed")
	return err
}

// Stop 请求 Main 在下一轮迭代开始时返回（Main 尚未运行时在其启动后立即返回），可以在其它 goroutine 调用
func (el *EventLoop) Stop() {
	el.stop.Store(true)
	if err := el.apidata.Wakeup(); err != nil && !errors.Is(err, poller.ErrPollerClosed) {
		el.logger.Warn("wakeup poller failed", zap.Error(err))
	}
}

// Main 循环处理事件直到 Stop 被调用，后端等待失败时返回错误。
// Main 之前调用的 Stop 同样生效，停止标记在 Main 返回时清除。
// 回调中的 panic 不会被捕获，直接传递给调用方。
func (el *EventLoop) Main() error {
	defer el.stop.Store(false)
	for !el.stop.Load() {
		if _, err := el.ProcessEvents(AllEvents | CallAfterSleep); err != nil {
			el.logger.Error("process events failed", zap.Error(err))
			return err
		}
	}
	return nil
}

// ProcessEvents 执行一轮迭代，返回处理的事件数
func (el *EventLoop) ProcessEvents(flags Flag) (int, error) {
	return el.ProcessEventsWithin(flags, -1)
}

// ProcessEventsWithin 执行一轮迭代，等待时间不超过 bound（bound < 0 表示不限制）。
// 先执行文件事件，再执行时间事件。
func (el *EventLoop) ProcessEventsWithin(flags Flag, bound time.Duration) (int, error) {
	processed := 0

	if flags&AllEvents == 0 {
		return 0, nil
	}
	el.metrics.iteration()

	// 没有注册描述符时，只有需要等待时间事件才进入等待
	if el.files.maxfd != -1 || (flags&TimeEvents != 0 && flags&DontWait == 0) {
		if el.beforesleep != nil && flags&SkipBeforeSleep == 0 {
			el.beforesleep(el)
		}

		timeout := el.computeTimeout(flags, bound)
		start := time.Now()
		numevents, err := el.apidata.Wait(timeout, el.fired)
		el.metrics.observeWait(time.Since(start))
		if err != nil {
			return processed, errs.NewBackendErr().WithErr(errors.Wrapf(err, "%s wait", el.apidata.Name()))
		}

		if el.aftersleep != nil && flags&CallAfterSleep != 0 {
			el.aftersleep(el)
		}

		if flags&FileEvents != 0 {
			processed += el.processFileEvents(numevents)
		}
	}

	if flags&TimeEvents != 0 {
		processed += el.timers.processDue(el, el.now())
	}
	return processed, nil
}

func (el *EventLoop) computeTimeout(flags Flag, bound time.Duration) time.Duration {
	if flags&DontWait != 0 {
		return 0
	}

	timeout := time.Duration(-1)
	if flags&TimeEvents != 0 {
		if shortest := el.timers.nearest(); shortest != nil {
			timeout = shortest.deadline().Sub(el.now())
			if timeout < 0 {
				timeout = 0
			}
		}
	}
	if bound >= 0 && (timeout < 0 || bound < timeout) {
		timeout = bound
	}
	return timeout
}

// processFileEvents 按后端返回的顺序执行就绪事件。
// 每次调用回调前都重新检查当前掩码，回调中删除或修改的事件不会被过期调用。
func (el *EventLoop) processFileEvents(numevents int) int {
	processed := 0
	// 快照期间置空，回调中嵌套的 ProcessEvents 不会覆盖它
	ready := append(el.ready[:0], el.fired[:numevents]...)
	el.ready = nil
	for _, pe := range ready {
		fd := pe.Fd
		mask := pe.Mask

		fe := el.files.get(fd)
		if fe == nil {
			continue
		}
		fired := false

		// 默认先写后读；设置屏障时先读，写推迟到本轮末尾
		invert := fe.mask&Barrier != 0

		if !invert && fe.mask&mask&Writable != 0 {
			fe.wfileProc(el, fd, fe.clientData, mask)
			fired = true
		}

		// 回调可能调整了 setsize，重新获取
		if fe = el.files.get(fd); fe != nil && fe.mask&mask&Readable != 0 {
			fe.rfileProc(el, fd, fe.clientData, mask)
			fired = true
		}

		if invert {
			if fe = el.files.get(fd); fe != nil && fe.mask&mask&Writable != 0 {
				el.deferred.Add(poller.Pevent{Fd: fd, Mask: mask})
				fired = true
			}
		}

		if fired {
			processed++
		}
	}

	for el.deferred.Length() > 0 {
		pe := el.deferred.Remove().(poller.Pevent)
		if fe := el.files.get(pe.Fd); fe != nil && fe.mask&pe.Mask&Writable != 0 {
			fe.wfileProc(el, pe.Fd, fe.clientData, pe.Mask)
		}
	}

	el.ready = ready
	el.metrics.fileEventsFired(processed)
	return processed
}

func (el *EventLoop) SetBeforeSleepProc(beforesleep BeforeSleepProc) {
	el.beforesleep = beforesleep
}

func (el *EventLoop) SetAfterSleepProc(aftersleep BeforeSleepProc) {
	el.aftersleep = aftersleep
}

func (el *EventLoop) GetApiName() string {
	return el.apidata.Name()
}

func (el *EventLoop) GetSetSize() int {
	return len(el.files.events)
}

// ResizeSetSize 调整可追踪的描述符数量，已注册的描述符 >= setsize 时返回 Busy
func (el *EventLoop) ResizeSetSize(setsize int) error {
	if setsize <= 0 {
		return errs.NewInvalidParamErr()
	}
	if setsize == len(el.files.events) {
		return nil
	}
	if el.files.maxfd >= setsize {
		e := errs.NewBusyErr()
		el.logger.Warn(e.Error(), zap.Int(consts.LogFieldFd, el.files.maxfd), zap.Int(consts.LogFieldValue, setsize))
		return e
	}
	if err := el.apidata.Resize(setsize); err != nil {
		return errs.NewAllocationErr().WithErr(errors.Wrap(err, "resize poller"))
	}

	el.files.resize(setsize)
	el.fired = make([]poller.Pevent, setsize)
	el.logger.Info("event loop resized", zap.Int(consts.LogFieldValue, setsize))
	return nil
}

// MaxFd 返回当前注册的最大描述符，没有时为 -1
func (el *EventLoop) MaxFd() int {
	return el.files.maxfd
}

// TimeEventCount 返回当前存活的时间事件数
func (el *EventLoop) TimeEventCount() int {
	return el.timers.len()
}

func (el *EventLoop) Id() string {
	return el.id
}
