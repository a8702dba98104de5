//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package poller

import (
	"errors"
	"time"
)

var ErrUnsupportedPlatform = errors.New("no poll backend for this platform")

func NewPoller(setsize int) (Poller, error) {
	return nil, ErrUnsupportedPlatform
}

func WaitFd(fd int, mask Mask, timeout time.Duration) (Mask, error) {
	return None, ErrUnsupportedPlatform
}
