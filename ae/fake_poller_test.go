package ae

import (
	"testing"
	"time"

	"github.com/Trinoooo/eggie_ae/ae/poller"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

type interestCall struct {
	fd   int
	old  Mask
	mask Mask
}

// fakePoller 记录关注变更，按脚本返回就绪事件。
// 没有脚本事件时 Wait 立即返回，并把时钟推进 timeout。
type fakePoller struct {
	clock    *fakeClock
	interest map[int]Mask
	adds     []interestCall
	removes  []interestCall
	batches  [][]poller.Pevent
	timeouts []time.Duration
	waitErr  error
	setsize  int
	wakeups  int
	closed   bool
}

func newFakePoller(clock *fakeClock, setsize int) *fakePoller {
	return &fakePoller{
		clock:    clock,
		interest: make(map[int]Mask),
		setsize:  setsize,
	}
}

func (fp *fakePoller) AddInterest(fd int, old, add Mask) error {
	fp.adds = append(fp.adds, interestCall{fd: fd, old: old, mask: add})
	fp.interest[fd] = (old | add) & (Readable | Writable)
	return nil
}

func (fp *fakePoller) RemoveInterest(fd int, old, del Mask) error {
	fp.removes = append(fp.removes, interestCall{fd: fd, old: old, mask: del})
	remain := old &^ del & (Readable | Writable)
	if remain == None {
		delete(fp.interest, fd)
	} else {
		fp.interest[fd] = remain
	}
	return nil
}

func (fp *fakePoller) Wait(timeout time.Duration, events []poller.Pevent) (int, error) {
	fp.timeouts = append(fp.timeouts, timeout)
	if fp.waitErr != nil {
		return 0, fp.waitErr
	}
	if len(fp.batches) > 0 {
		batch := fp.batches[0]
		fp.batches = fp.batches[1:]
		return copy(events, batch), nil
	}
	if timeout > 0 {
		fp.clock.advance(timeout)
	}
	return 0, nil
}

func (fp *fakePoller) ready(events ...poller.Pevent) {
	fp.batches = append(fp.batches, events)
}

func (fp *fakePoller) lastTimeout() time.Duration {
	return fp.timeouts[len(fp.timeouts)-1]
}

func (fp *fakePoller) Resize(setsize int) error {
	fp.setsize = setsize
	return nil
}

func (fp *fakePoller) Wakeup() error {
	fp.wakeups++
	return nil
}

func (fp *fakePoller) Name() string {
	return "fake"
}

func (fp *fakePoller) Close() error {
	fp.closed = true
	return nil
}

func newTestLoop(t *testing.T, setsize int, opts ...Option) (*EventLoop, *fakePoller, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	fp := newFakePoller(clock, setsize)
	opts = append([]Option{WithPoller(fp), WithClock(clock.now)}, opts...)
	el, err := NewEventLoop(setsize, opts...)
	require.Nil(t, err)
	return el, fp, clock
}

func noopFileProc(loop *EventLoop, fd int, clientData any, mask Mask) {}
