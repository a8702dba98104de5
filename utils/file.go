package utils

import (
	"errors"
	"os"

	"github.com/Trinoooo/eggie_ae/errs"
)

// CheckAndCreateDir 目录不存在时逐级创建
func CheckAndCreateDir(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		if err = os.MkdirAll(dir, 0770); err != nil {
			return errs.NewMkdirErr().WithErr(err)
		}
		return nil
	} else if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return errs.NewFileNoPermissionErr().WithErr(err)
		}
		return errs.NewFileStatErr().WithErr(err)
	}

	if !info.IsDir() {
		return errs.NewMkdirErr().WithErr(errors.New("not a directory: " + dir))
	}
	return nil
}
