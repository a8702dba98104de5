package utils

import "fmt"

type color int

const (
	red    color = 31
	yellow color = 33
	cyan   color = 36
)

func paint(c color, prefix, format string, args ...any) string {
	return fmt.Sprintf("\033[1;%dm%s%s\033[0m", c, prefix, fmt.Sprintf(format, args...))
}

// WrapError 错误回复，与服务端的 -ERR 对应
func WrapError(format string, args ...any) string {
	return paint(red, "(error) ", format, args...)
}

// WrapWarn 连接状态变化等客户端自身的提示
func WrapWarn(format string, args ...any) string {
	return paint(yellow, "(warn) ", format, args...)
}

func WrapInfo(format string, args ...any) string {
	return paint(cyan, "", format, args...)
}
