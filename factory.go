package respool

import (
	"context"
)

// Factory 负责创建, 校验和销毁真实资源. 这些方法都在池锁之外被调用, 可以做网络IO
type Factory interface {
	// 创建一个资源, ctx 会在 ConnectTimeout 后超时
	Create(ctx context.Context) (interface{}, error)
	// 检查资源是否仍然可用
	Validate(ctx context.Context, v interface{}) bool
	// 销毁资源
	Destroy(v interface{}) error
}

// Resetter 是可选接口, 实现了它的 Factory 会在每次归还时重置资源状态, 重置失败的资源会被销毁
type Resetter interface {
	Reset(ctx context.Context, v interface{}) error
}

// FuncFactory 用函数拼装一个 Factory, 未设置的 ValidateFunc 视为始终有效, 未设置的 DestroyFunc 什么都不做
type FuncFactory struct {
	CreateFunc   func(ctx context.Context) (interface{}, error)
	ValidateFunc func(ctx context.Context, v interface{}) bool
	DestroyFunc  func(v interface{}) error
}

func (f *FuncFactory) Create(ctx context.Context) (interface{}, error) {
	return f.CreateFunc(ctx)
}

func (f *FuncFactory) Validate(ctx context.Context, v interface{}) bool {
	if f.ValidateFunc == nil {
		return true
	}
	return f.ValidateFunc(ctx, v)
}

func (f *FuncFactory) Destroy(v interface{}) error {
	if f.DestroyFunc == nil {
		return nil
	}
	return f.DestroyFunc(v)
}
