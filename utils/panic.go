package utils

// Recover 执行 fn，返回其中 panic 的值，没有 panic 时返回 nil
func Recover(fn func()) (r any) {
	defer func() {
		r = recover()
	}()

	fn()
	return nil
}
