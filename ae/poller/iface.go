package poller

import "time"

// Mask 描述符关注/就绪的事件位
type Mask int

const (
	None     Mask = 0
	Readable Mask = 1 // 描述符可读时触发
	Writable Mask = 2 // 描述符可写时触发
	// Barrier 与 Writable 同时设置时，同一轮迭代中读回调先于写回调执行，
	// 用于"先落盘再回复"的场景
	Barrier Mask = 4
)

// Pevent 一次 Wait 返回的就绪事件
type Pevent struct {
	Fd   int
	Mask Mask
}

// Poller 对某一种操作系统多路复用机制的封装。
// 调用方负责记录每个描述符当前关注的事件，old 为变更前的掩码。
type Poller interface {
	AddInterest(fd int, old, add Mask) error
	RemoveInterest(fd int, old, del Mask) error
	// Wait 阻塞直到有事件就绪或超时，timeout < 0 表示无限等待。
	// 被信号中断时返回 0, nil。
	Wait(timeout time.Duration, events []Pevent) (int, error)
	Resize(setsize int) error
	// Wakeup 可以在其它 goroutine 调用，打断正在进行的 Wait
	Wakeup() error
	Name() string
	Close() error
}

func timeoutMs(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	// 向上取整，避免 0 < timeout < 1ms 时退化为忙等
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
