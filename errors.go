package respool

import (
	"errors"
	"fmt"
)

var (
	ErrPoolClosed      = errors.New("资源池已关闭")
	ErrTimeout         = errors.New("获取资源超时")
	ErrMaxWaitLimit    = errors.New("达到最大等待数量")
	ErrValidation      = errors.New("资源校验失败次数过多")
	ErrInvalidConfig   = errors.New("配置无效")
	ErrCreation        = errors.New("创建资源失败")
	ErrNotBorrowed     = errors.New("资源未被借出")
	ErrForeignResource = errors.New("资源不属于这个资源池")
)

// CreationError 表示 Factory 在限定次数内都没能创建出资源
type CreationError struct {
	Attempts int
	Err      error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("%s(尝试%d次): %v", ErrCreation.Error(), e.Attempts, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

func (e *CreationError) Is(target error) bool { return target == ErrCreation }
