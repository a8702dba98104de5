package ae

import (
	"errors"
	"testing"
	"time"

	"github.com/Trinoooo/eggie_ae/ae/poller"
	"github.com/Trinoooo/eggie_ae/errs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
}

func (r *recorder) fileProc(name string) FileProc {
	return func(loop *EventLoop, fd int, clientData any, mask Mask) {
		r.calls = append(r.calls, name)
	}
}

// TestBarrierReadBeforeWrite 设置屏障时读回调先于写回调
func TestBarrierReadBeforeWrite(t *testing.T) {
	el, fp, _ := newTestLoop(t, 16)
	r := &recorder{}
	require.Nil(t, el.CreateFileEvent(5, Readable|Writable|Barrier, r.fileProc("read"), r.fileProc("write"), nil))

	fp.ready(poller.Pevent{Fd: 5, Mask: Readable | Writable})
	n, err := el.ProcessEvents(FileEvents)
	assert.Nil(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"read", "write"}, r.calls)
}

// TestDefaultWriteBeforeRead 未设置屏障时先写后读
func TestDefaultWriteBeforeRead(t *testing.T) {
	el, fp, _ := newTestLoop(t, 16)
	r := &recorder{}
	require.Nil(t, el.CreateFileEvent(5, Readable|Writable, r.fileProc("read"), r.fileProc("write"), nil))

	fp.ready(poller.Pevent{Fd: 5, Mask: Readable | Writable})
	_, err := el.ProcessEvents(FileEvents)
	assert.Nil(t, err)
	assert.Equal(t, []string{"write", "read"}, r.calls)
}

// TestBarrierWriteDeferredToEndOfPass 屏障描述符的写回调推迟到本轮所有就绪描述符处理完之后
func TestBarrierWriteDeferredToEndOfPass(t *testing.T) {
	el, fp, _ := newTestLoop(t, 16)
	r := &recorder{}
	require.Nil(t, el.CreateFileEvent(5, Readable|Writable|Barrier, r.fileProc("r5"), r.fileProc("w5"), nil))
	require.Nil(t, el.CreateFileEvent(6, Readable|Writable, r.fileProc("r6"), r.fileProc("w6"), nil))

	fp.ready(poller.Pevent{Fd: 5, Mask: Readable | Writable}, poller.Pevent{Fd: 6, Mask: Readable | Writable})
	n, err := el.ProcessEvents(FileEvents)
	assert.Nil(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"r5", "w6", "r6", "w5"}, r.calls)
}

// TestBarrierDeferredWriteRevalidated 读回调删除了可写事件，推迟的写回调不再执行
func TestBarrierDeferredWriteRevalidated(t *testing.T) {
	el, fp, _ := newTestLoop(t, 16)
	r := &recorder{}
	rproc := func(loop *EventLoop, fd int, clientData any, mask Mask) {
		r.calls = append(r.calls, "read")
		loop.DeleteFileEvent(fd, Writable)
	}
	require.Nil(t, el.CreateFileEvent(5, Readable|Writable|Barrier, rproc, r.fileProc("write"), nil))

	fp.ready(poller.Pevent{Fd: 5, Mask: Readable | Writable})
	_, err := el.ProcessEvents(FileEvents)
	assert.Nil(t, err)
	assert.Equal(t, []string{"read"}, r.calls)
}

// TestCallbackDeletesEvents 回调中删除的事件在本轮不会被过期调用
//   - 写回调删除自身的可读事件
//   - 写回调删除另一个已就绪的描述符
func TestCallbackDeletesEvents(t *testing.T) {
	el, fp, _ := newTestLoop(t, 16)
	r := &recorder{}
	wproc := func(loop *EventLoop, fd int, clientData any, mask Mask) {
		r.calls = append(r.calls, "w5")
		loop.DeleteFileEvent(5, Readable)
		loop.DeleteFileEvent(6, Readable)
	}
	require.Nil(t, el.CreateFileEvent(5, Readable|Writable, r.fileProc("r5"), wproc, nil))
	require.Nil(t, el.CreateFileEvent(6, Readable, r.fileProc("r6"), nil, nil))

	fp.ready(poller.Pevent{Fd: 5, Mask: Readable | Writable}, poller.Pevent{Fd: 6, Mask: Readable})
	n, err := el.ProcessEvents(FileEvents)
	assert.Nil(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"w5"}, r.calls)
}

// TestReadyMaskIntersectsRegistration 只执行已注册且已就绪的方向
func TestReadyMaskIntersectsRegistration(t *testing.T) {
	el, fp, _ := newTestLoop(t, 16)
	r := &recorder{}
	require.Nil(t, el.CreateFileEvent(4, Readable, r.fileProc("read"), nil, nil))

	fp.ready(poller.Pevent{Fd: 4, Mask: Writable}, poller.Pevent{Fd: 9, Mask: Readable})
	n, err := el.ProcessEvents(FileEvents)
	assert.Nil(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, r.calls)
}

// TestSleepHooks beforesleep 在等待前执行，aftersleep 在等待后、回调前执行
func TestSleepHooks(t *testing.T) {
	el, fp, _ := newTestLoop(t, 16)
	r := &recorder{}
	el.SetBeforeSleepProc(func(loop *EventLoop) {
		r.calls = append(r.calls, "before")
	})
	el.SetAfterSleepProc(func(loop *EventLoop) {
		r.calls = append(r.calls, "after")
	})
	require.Nil(t, el.CreateFileEvent(3, Readable, r.fileProc("read"), nil, nil))

	fp.ready(poller.Pevent{Fd: 3, Mask: Readable})
	_, err := el.ProcessEvents(AllEvents | CallAfterSleep)
	assert.Nil(t, err)
	assert.Equal(t, []string{"before", "after", "read"}, r.calls)

	// 不阻塞的一轮仍执行 beforesleep，没有 CallAfterSleep 时不执行 aftersleep
	r.calls = nil
	_, err = el.ProcessEvents(AllEvents | DontWait)
	assert.Nil(t, err)
	assert.Equal(t, []string{"before"}, r.calls)
	assert.Equal(t, time.Duration(0), fp.lastTimeout())

	r.calls = nil
	_, err = el.ProcessEvents(AllEvents | DontWait | SkipBeforeSleep | CallAfterSleep)
	assert.Nil(t, err)
	assert.Equal(t, []string{"after"}, r.calls)
}

// TestComputeTimeout 等待超时取最近时间事件与调用方上限中的较小值
func TestComputeTimeout(t *testing.T) {
	el, fp, _ := newTestLoop(t, 16)
	require.Nil(t, el.CreateFileEvent(1, Readable, noopFileProc, nil, nil))

	// 没有时间事件时无限等待
	_, err := el.ProcessEvents(AllEvents)
	assert.Nil(t, err)
	assert.Equal(t, time.Duration(-1), fp.lastTimeout())

	_, err = el.ProcessEventsWithin(AllEvents, 200*time.Millisecond)
	assert.Nil(t, err)
	assert.Equal(t, 200*time.Millisecond, fp.lastTimeout())

	el.CreateTimeEvent(300, func(loop *EventLoop, id int64, clientData any) int {
		return NoMore
	}, nil, nil)
	_, err = el.ProcessEventsWithin(AllEvents, 100*time.Millisecond)
	assert.Nil(t, err)
	assert.Equal(t, 100*time.Millisecond, fp.lastTimeout())

	// fake poller 的时钟已推进 100ms
	n, err := el.ProcessEvents(AllEvents)
	assert.Nil(t, err)
	assert.Equal(t, 200*time.Millisecond, fp.lastTimeout())
	assert.Equal(t, 1, n)

	// 只处理文件事件时忽略时间事件
	el.CreateTimeEvent(300, func(loop *EventLoop, id int64, clientData any) int {
		return NoMore
	}, nil, nil)
	_, err = el.ProcessEvents(FileEvents)
	assert.Nil(t, err)
	assert.Equal(t, time.Duration(-1), fp.lastTimeout())
}

// TestSkipWaitWithoutDescriptors 没有描述符且不等待时间事件时不进入等待
func TestSkipWaitWithoutDescriptors(t *testing.T) {
	el, fp, _ := newTestLoop(t, 16)

	n, err := el.ProcessEvents(AllEvents | DontWait)
	assert.Nil(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, fp.timeouts)

	n, err = el.ProcessEvents(Flag(0))
	assert.Nil(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, fp.timeouts)
}

// TestResizeSetSize 缩小到已注册描述符以下返回 Busy，扩大后保留原有注册
func TestResizeSetSize(t *testing.T) {
	el, fp, _ := newTestLoop(t, 8)
	reads := 0
	require.Nil(t, el.CreateFileEvent(5, Readable, func(loop *EventLoop, fd int, clientData any, mask Mask) {
		reads++
		assert.Equal(t, "ctx", clientData)
	}, nil, "ctx"))

	err := el.ResizeSetSize(3)
	assert.Equal(t, int64(errs.BusyErrCode), errs.GetCode(err))
	assert.Equal(t, 8, el.GetSetSize())
	assert.Equal(t, Readable, el.GetFileEvents(5))

	assert.Nil(t, el.ResizeSetSize(10))
	assert.Equal(t, 10, el.GetSetSize())
	assert.Equal(t, 10, fp.setsize)
	assert.Equal(t, Readable, el.GetFileEvents(5))
	assert.Nil(t, el.CreateFileEvent(9, Readable, noopFileProc, nil, nil))

	fp.ready(poller.Pevent{Fd: 5, Mask: Readable})
	_, err = el.ProcessEvents(FileEvents)
	assert.Nil(t, err)
	assert.Equal(t, 1, reads)

	// 大小不变时直接返回
	assert.Nil(t, el.ResizeSetSize(10))
}

// TestStopEndsMain Stop 在下一轮开始前生效，Main 正常返回
func TestStopEndsMain(t *testing.T) {
	el, fp, _ := newTestLoop(t, 16)
	iterations := 0
	el.SetBeforeSleepProc(func(loop *EventLoop) {
		iterations++
		if iterations == 3 {
			loop.Stop()
		}
	})

	assert.Nil(t, el.Main())
	assert.Equal(t, 3, iterations)
	assert.Equal(t, 1, fp.wakeups)
}

// TestMainBackendError 后端等待失败时 Main 返回 BackendError
func TestMainBackendError(t *testing.T) {
	el, fp, _ := newTestLoop(t, 16)
	fp.waitErr = errors.New("boom")

	err := el.Main()
	assert.Equal(t, int64(errs.BackendErrCode), errs.GetCode(err))
}

// TestCallbackPanicPropagates 回调 panic 不被循环捕获，循环本身仍可继续使用
func TestCallbackPanicPropagates(t *testing.T) {
	el, fp, _ := newTestLoop(t, 16)
	require.Nil(t, el.CreateFileEvent(2, Readable, func(loop *EventLoop, fd int, clientData any, mask Mask) {
		panic("callback failed")
	}, nil, nil))

	fp.ready(poller.Pevent{Fd: 2, Mask: Readable})
	assert.Panics(t, func() {
		_, _ = el.ProcessEvents(FileEvents)
	})

	el.DeleteFileEvent(2, Readable)
	fired := 0
	el.CreateTimeEvent(0, func(loop *EventLoop, id int64, clientData any) int {
		fired++
		return NoMore
	}, nil, nil)
	n, err := el.ProcessEvents(AllEvents | DontWait)
	assert.Nil(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, fired)
}

// TestNewEventLoopFailed 非法 setsize 不返回事件循环
func TestNewEventLoopFailed(t *testing.T) {
	el, err := NewEventLoop(0)
	assert.Nil(t, el)
	assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err))
}

// TestCloseFinalizesTimeEvents 关闭时每个剩余时间事件的 finalizer 执行一次
func TestCloseFinalizesTimeEvents(t *testing.T) {
	el, fp, _ := newTestLoop(t, 16)
	var finalized []any
	fin := func(loop *EventLoop, clientData any) {
		finalized = append(finalized, clientData)
	}
	proc := func(loop *EventLoop, id int64, clientData any) int { return NoMore }
	el.CreateTimeEvent(100, proc, "a", fin)
	el.CreateTimeEvent(200, proc, "b", fin)
	el.CreateTimeEvent(300, proc, "c", nil)

	assert.Nil(t, el.Close())
	assert.Equal(t, []any{"a", "b"}, finalized)
	assert.Equal(t, 0, el.TimeEventCount())
	assert.True(t, fp.closed)
}

// TestMetrics 事件循环指标随事件处理更新
func TestMetrics(t *testing.T) {
	m := NewMetrics("eggie_ae_test")
	m.MustRegister(prometheus.NewRegistry())
	el, fp, _ := newTestLoop(t, 16, WithMetrics(m))

	require.Nil(t, el.CreateFileEvent(1, Readable, noopFileProc, nil, nil))
	require.Nil(t, el.CreateFileEvent(1, Writable, nil, noopFileProc, nil))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RegisteredFds))

	el.CreateTimeEvent(0, func(loop *EventLoop, id int64, clientData any) int {
		return NoMore
	}, nil, nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TimeEvents))

	fp.ready(poller.Pevent{Fd: 1, Mask: Readable})
	n, err := el.ProcessEvents(AllEvents)
	assert.Nil(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Iterations))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FileEventsFired))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TimeEventsFired))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.TimeEvents))

	el.DeleteFileEvent(1, Readable|Writable)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.RegisteredFds))
}

func TestGetApiName(t *testing.T) {
	el, _, _ := newTestLoop(t, 16)
	assert.Equal(t, "fake", el.GetApiName())
	assert.NotEmpty(t, el.Id())
}

// TestResizeInCallbackKeepsReadySnapshot 回调中调整 setsize 不影响本轮剩余的就绪事件
//   - 扩大后其余描述符照常执行
//   - 缩小（先删除高位描述符）后不越界，被删除的描述符不再执行
func TestResizeInCallbackKeepsReadySnapshot(t *testing.T) {
	t.Run("grow", func(t *testing.T) {
		el, fp, _ := newTestLoop(t, 4)
		var calls []int
		proc := func(loop *EventLoop, fd int, clientData any, mask Mask) {
			calls = append(calls, fd)
			if fd == 1 {
				assert.Nil(t, loop.ResizeSetSize(16))
			}
		}
		require.Nil(t, el.CreateFileEvent(1, Readable, proc, nil, nil))
		require.Nil(t, el.CreateFileEvent(2, Readable, proc, nil, nil))

		fp.ready(poller.Pevent{Fd: 1, Mask: Readable}, poller.Pevent{Fd: 2, Mask: Readable})
		n, err := el.ProcessEvents(FileEvents)
		assert.Nil(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []int{1, 2}, calls)
		assert.Equal(t, 16, el.GetSetSize())
	})

	t.Run("shrink", func(t *testing.T) {
		el, fp, _ := newTestLoop(t, 8)
		var calls []int
		proc := func(loop *EventLoop, fd int, clientData any, mask Mask) {
			calls = append(calls, fd)
			if fd == 0 {
				loop.DeleteFileEvent(3, Readable)
				loop.DeleteFileEvent(4, Readable)
				assert.Nil(t, loop.ResizeSetSize(3))
			}
		}
		var batch []poller.Pevent
		for fd := 0; fd < 5; fd++ {
			require.Nil(t, el.CreateFileEvent(fd, Readable, proc, nil, nil))
			batch = append(batch, poller.Pevent{Fd: fd, Mask: Readable})
		}

		fp.ready(batch...)
		var n int
		var err error
		assert.NotPanics(t, func() {
			n, err = el.ProcessEvents(FileEvents)
		})
		assert.Nil(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, []int{0, 1, 2}, calls)
		assert.Equal(t, 3, el.GetSetSize())
	})
}

// TestStopBeforeMain Main 启动前的 Stop 不会丢失，Main 返回后停止标记被清除
func TestStopBeforeMain(t *testing.T) {
	el, fp, _ := newTestLoop(t, 16)
	el.Stop()
	assert.Nil(t, el.Main())
	assert.Empty(t, fp.timeouts)

	iterations := 0
	el.SetBeforeSleepProc(func(loop *EventLoop) {
		iterations++
		loop.Stop()
	})
	el.CreateTimeEvent(1000, func(loop *EventLoop, id int64, clientData any) int { return NoMore }, nil, nil)
	assert.Nil(t, el.Main())
	assert.Equal(t, 1, iterations)
}
