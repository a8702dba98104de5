// Package ae 是一个单线程的事件驱动库：把描述符就绪通知和定时回调统一到一个确定性的分发循环中。
//
// 一轮迭代的流程：
//  1. 根据最近的时间事件计算等待超时
//  2. 在 poller.Poller 上等待（整个循环唯一的挂起点）
//  3. 按屏障规则执行就绪的文件事件回调
//  4. 执行到期的时间事件，按返回值重新调度或删除
//
// 所有注册、注销、查询操作都必须在循环所在的 goroutine 中调用，Stop 除外。
package ae

import (
	"github.com/Trinoooo/eggie_ae/ae/poller"
)

type Mask = poller.Mask

const (
	None     = poller.None
	Readable = poller.Readable
	Writable = poller.Writable
	Barrier  = poller.Barrier
)

// Flag 控制 ProcessEvents 单轮迭代的行为
type Flag int

const (
	FileEvents      Flag = 1
	TimeEvents      Flag = 2
	AllEvents            = FileEvents | TimeEvents
	DontWait        Flag = 4  // 不阻塞，超时为 0
	CallAfterSleep  Flag = 8  // 从等待返回后调用 aftersleep
	SkipBeforeSleep Flag = 16 // 本轮不调用 beforesleep
)

const (
	// NoMore 时间事件回调返回该值表示不再调度
	NoMore = -1
	// DeletedEventId 已删除时间事件的 id 标记
	DeletedEventId int64 = -1
)

type FileProc func(loop *EventLoop, fd int, clientData any, mask Mask)

type TimeProc func(loop *EventLoop, id int64, clientData any) int

type EventFinalizerProc func(loop *EventLoop, clientData any)

type BeforeSleepProc func(loop *EventLoop)
