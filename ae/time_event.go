package ae

import (
	"time"

	"github.com/Trinoooo/eggie_ae/consts"
	"github.com/Trinoooo/eggie_ae/errs"
	"go.uber.org/zap"
)

// ClockSkewThreshold 系统时间回拨超过该值时，所有时间事件立即到期
const ClockSkewThreshold = time.Second

type timeEvent struct {
	id            int64
	whenSec       int64
	whenMs        int64
	timeProc      TimeProc
	finalizerProc EventFinalizerProc
	clientData    any
}

func (te *timeEvent) due(nowSec, nowMs int64) bool {
	return nowSec > te.whenSec || (nowSec == te.whenSec && nowMs >= te.whenMs)
}

func (te *timeEvent) deadline() time.Time {
	return time.Unix(te.whenSec, te.whenMs*int64(time.Millisecond))
}

// timeEvents 按插入顺序保存时间事件，不按到期时间排序。
// 查找最近到期的事件需要全量扫描，时间事件数量通常远小于描述符数量。
type timeEvents struct {
	nextId   int64
	list     []*timeEvent
	index    map[int64]*timeEvent
	lastTime time.Time // 用于检测系统时间回拨
	depth    int       // processDue 嵌套深度，大于 0 时不整理 list
	dirty    bool      // list 中存在已删除的事件
}

func newTimeEvents(now time.Time) *timeEvents {
	return &timeEvents{
		index:    make(map[int64]*timeEvent),
		lastTime: now.Round(0),
	}
}

func getTime(now time.Time) (int64, int64) {
	return now.Unix(), int64(now.Nanosecond()) / int64(time.Millisecond)
}

// addMillisecondsToNow 不足 1ms 的部分向上取整，保证到期时间不早于 now + ms
func addMillisecondsToNow(now time.Time, ms int64) (int64, int64) {
	when := now.Add(time.Duration(ms) * time.Millisecond)
	sec, msec := getTime(when)
	if when.Nanosecond()%int(time.Millisecond) != 0 {
		msec++
		if msec >= 1000 {
			sec++
			msec -= 1000
		}
	}
	return sec, msec
}

func (tes *timeEvents) create(now time.Time, ms int64, proc TimeProc, clientData any, finalizerProc EventFinalizerProc) int64 {
	id := tes.nextId
	tes.nextId++
	te := &timeEvent{
		id:            id,
		timeProc:      proc,
		finalizerProc: finalizerProc,
		clientData:    clientData,
	}
	te.whenSec, te.whenMs = addMillisecondsToNow(now, ms)
	tes.list = append(tes.list, te)
	tes.index[id] = te
	return id
}

// remove 从索引中摘除并打上删除标记，不调用 finalizer
func (tes *timeEvents) remove(id int64) (*timeEvent, bool) {
	te, ok := tes.index[id]
	if !ok {
		return nil, false
	}
	delete(tes.index, id)
	te.id = DeletedEventId
	tes.dirty = true
	tes.compact()
	return te, true
}

// compact 清理 list 中已删除的事件，遍历期间推迟到遍历结束
func (tes *timeEvents) compact() {
	if tes.depth > 0 || !tes.dirty {
		return
	}
	j := 0
	for _, te := range tes.list {
		if te.id != DeletedEventId {
			tes.list[j] = te
			j++
		}
	}
	for k := j; k < len(tes.list); k++ {
		tes.list[k] = nil
	}
	tes.list = tes.list[:j]
	tes.dirty = false
}

// nearest 全量扫描找出最早到期的事件，到期时间相同时取插入较早的
func (tes *timeEvents) nearest() *timeEvent {
	var nearest *timeEvent
	for _, te := range tes.list {
		if te.id == DeletedEventId {
			continue
		}
		if nearest == nil || te.whenSec < nearest.whenSec ||
			(te.whenSec == nearest.whenSec && te.whenMs < nearest.whenMs) {
			nearest = te
		}
	}
	return nearest
}

func (tes *timeEvents) len() int {
	return len(tes.index)
}

// clockMovedBackward 墙上时间比 last 回退超过 ClockSkewThreshold
func clockMovedBackward(last, now time.Time) bool {
	return now.UnixMilli() < last.UnixMilli()-ClockSkewThreshold.Milliseconds()
}

// processDue 执行所有在 now 之前到期的事件。
// 扫描开始时记录最大 id，本轮回调中新建的事件留到下一轮。
func (tes *timeEvents) processDue(el *EventLoop, now time.Time) int {
	processed := 0

	// 到期判断用的是墙上时间，回拨检测也必须去掉单调时钟读数
	now = now.Round(0)
	if clockMovedBackward(tes.lastTime, now) {
		el.logger.Warn("system clock moved backward, force all time events due",
			zap.Time("last", tes.lastTime), zap.Time("now", now))
		for _, te := range tes.list {
			te.whenSec, te.whenMs = 0, 0
		}
	}
	tes.lastTime = now

	tes.depth++
	defer func() {
		tes.depth--
		tes.compact()
	}()

	nowSec, nowMs := getTime(now)
	maxId := tes.nextId - 1
	n := len(tes.list)
	for i := 0; i < n; i++ {
		te := tes.list[i]
		if te.id == DeletedEventId || te.id > maxId {
			continue
		}
		if !te.due(nowSec, nowMs) {
			continue
		}

		id := te.id
		retval := te.timeProc(el, id, te.clientData)
		processed++
		el.metrics.timeEventFired()

		if te.id == DeletedEventId {
			// 回调中自行删除，finalizer 已执行
			continue
		}
		if retval >= 0 {
			te.whenSec, te.whenMs = addMillisecondsToNow(now, int64(retval))
		} else {
			el.removeTimeEvent(id)
		}
	}
	return processed
}

// CreateTimeEvent 创建 ms 毫秒后到期的时间事件，返回事件 id。
// proc 返回非负值时在该值毫秒后再次执行，返回 NoMore 时删除事件并调用 finalizerProc。
func (el *EventLoop) CreateTimeEvent(ms int64, proc TimeProc, clientData any, finalizerProc EventFinalizerProc) int64 {
	if ms < 0 {
		ms = 0
	}
	id := el.timers.create(el.now(), ms, proc, clientData, finalizerProc)
	el.metrics.setTimeEvents(el.timers.len())
	return id
}

// DeleteTimeEvent 删除时间事件并调用其 finalizer，id 不存在时返回 NotFound
func (el *EventLoop) DeleteTimeEvent(id int64) error {
	if !el.removeTimeEvent(id) {
		e := errs.NewNotFoundErr()
		el.logger.Debug(e.Error(), zap.Int64(consts.LogFieldTimerId, id))
		return e
	}
	return nil
}

func (el *EventLoop) removeTimeEvent(id int64) bool {
	te, ok := el.timers.remove(id)
	if !ok {
		return false
	}
	el.metrics.setTimeEvents(el.timers.len())
	if te.finalizerProc != nil {
		te.finalizerProc(el, te.clientData)
	}
	return true
}
