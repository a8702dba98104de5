package errs

import (
	"errors"
	"fmt"
)

type AeErr struct {
	msg  string
	code int64
	err  error
}

// Error 输出格式：
// [错误码] 错误类型描述 ( => 包含错误详细描述 )
// 解释：(xxx) 表示可选内容
func (ae *AeErr) Error() string {
	details := fmt.Sprintf("[%d] %s", ae.code, ae.msg)
	if ae.err != nil {
		details += fmt.Sprintf(" => %s", ae.err)
	}

	return details
}

func (ae *AeErr) Code() int64 {
	return ae.code
}

func (ae *AeErr) WithErr(err error) *AeErr {
	ae.err = err
	return ae
}

func (ae *AeErr) Unwrap() error {
	return ae.err
}

func GetCode(err error) int64 {
	var ae *AeErr
	if errors.As(err, &ae) {
		return ae.code
	}
	return UnknownErrCode
}

const (
	UnknownErrCode           = 0
	InvalidParamErrCode      = 100001
	InvalidDescriptorErrCode = 100002
	NotFoundErrCode          = 100003
	BusyErrCode              = 100004
	AllocationErrCode        = 100005
	BackendErrCode           = 100006
	ConfigLoadErrCode        = 200001
	ListenErrCode            = 200002
	AcceptErrCode            = 200003
	ReadSocketErrCode        = 200004
	WriteSocketErrCode       = 200005
	ProtocolErrCode          = 200006
	MkdirErrCode             = 300001
	FileStatErrCode          = 300002
	FileNoPermissionErrCode  = 300003
)

func NewUnknownErr() *AeErr {
	return &AeErr{msg: "unknown error", code: UnknownErrCode}
}

func NewInvalidParamErr() *AeErr {
	return &AeErr{msg: "invalid params", code: InvalidParamErrCode}
}

func NewInvalidDescriptorErr() *AeErr {
	return &AeErr{msg: "descriptor out of range", code: InvalidDescriptorErrCode}
}

func NewNotFoundErr() *AeErr {
	return &AeErr{msg: "not found", code: NotFoundErrCode}
}

func NewBusyErr() *AeErr {
	return &AeErr{msg: "descriptor in use beyond requested size", code: BusyErrCode}
}

func NewAllocationErr() *AeErr {
	return &AeErr{msg: "allocate event loop failed", code: AllocationErrCode}
}

func NewBackendErr() *AeErr {
	return &AeErr{msg: "poll backend failed", code: BackendErrCode}
}

func NewConfigLoadErr() *AeErr {
	return &AeErr{msg: "load config failed", code: ConfigLoadErrCode}
}

func NewListenErr() *AeErr {
	return &AeErr{msg: "listen failed", code: ListenErrCode}
}

func NewAcceptErr() *AeErr {
	return &AeErr{msg: "accept connection failed", code: AcceptErrCode}
}

func NewReadSocketErr() *AeErr {
	return &AeErr{msg: "read socket failed", code: ReadSocketErrCode}
}

func NewWriteSocketErr() *AeErr {
	return &AeErr{msg: "write socket failed", code: WriteSocketErrCode}
}

func NewProtocolErr() *AeErr {
	return &AeErr{msg: "protocol error", code: ProtocolErrCode}
}

func NewMkdirErr() *AeErr {
	return &AeErr{msg: "mkdir failed", code: MkdirErrCode}
}

func NewFileStatErr() *AeErr {
	return &AeErr{msg: "file stat failed", code: FileStatErrCode}
}

func NewFileNoPermissionErr() *AeErr {
	return &AeErr{msg: "no permission", code: FileNoPermissionErrCode}
}
