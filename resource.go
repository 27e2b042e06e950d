package respool

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type itemState int

const (
	stateIdle itemState = iota
	stateBorrowed
	stateReturning // 正在归还, 在锁外执行校验和重置
	stateDestroyed
)

// 池中的一个真实资源, 除了 v 以外的字段只能在池锁内读写
type item struct {
	id         string
	v          interface{} // 通过 Factory 创建的真实资源
	pool       *Pool
	createTime time.Time
	lastUsed   time.Time // 最后一次放入空闲列表或交给等待者的时间
	state      itemState
	gen        uint64 // 每次借出加1, 用于识别过期的 Resource
}

// Resource 一次借出的凭证, 每次借出都会生成新的 Resource, 归还后就失效了
type Resource struct {
	it      *item
	gen     uint64
	invalid atomic.Bool
}

// 传入一个真实资源生成 item
func (p *Pool) makeItem(v interface{}) *item {
	now := time.Now()
	return &item{
		id:         uuid.NewString(),
		v:          v,
		pool:       p,
		createTime: now,
		lastUsed:   now,
	}
}

// 借出 item 并生成凭证, 必须持有锁
func (p *Pool) lendLocked(it *item) *Resource {
	it.state = stateBorrowed
	it.gen++
	p.borrowed++
	return &Resource{it: it, gen: it.gen}
}

// Value 获取通过 Factory 创建的真实资源
func (r *Resource) Value() interface{} {
	return r.it.v
}

// ID 资源的唯一标识, 同一个真实资源多次借出时ID不变
func (r *Resource) ID() string {
	return r.it.id
}

// CreateTime 真实资源的创建时间
func (r *Resource) CreateTime() time.Time {
	return r.it.createTime
}

// Invalidate 标记资源已损坏, 归还时会被销毁而不是放回池中
func (r *Resource) Invalidate() {
	r.invalid.Store(true)
}

// 超过最大存活时间
func (it *item) expired(now time.Time, maxLifetime time.Duration) bool {
	return maxLifetime > 0 && now.Sub(it.createTime) >= maxLifetime
}

// 空闲超时
func (it *item) idleTooLong(now time.Time, idleTimeout time.Duration) bool {
	return idleTimeout > 0 && now.Sub(it.lastUsed) > idleTimeout
}
