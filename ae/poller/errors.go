package poller

import "errors"

var (
	// ErrPollerClosed poller 已关闭
	ErrPollerClosed = errors.New("poller closed")
)
