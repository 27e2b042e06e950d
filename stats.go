package respool

import (
	"time"
)

// Stats 资源池状态快照, 计数部分在同一把锁内读取, 总是满足 Borrowed + Idle == Total
type Stats struct {
	MaxSize int
	MinIdle int

	Total    int // 已创建且未销毁的资源数
	Borrowed int // 借出的资源数
	Idle     int // 空闲的资源数
	Pending  int // 正在创建的资源数
	Waiting  int // 正在等待的请求数

	Created            uint64 // 累计创建数
	Destroyed          uint64 // 累计销毁数
	Evicted            uint64 // 累计被回收循环销毁的数量
	Borrows            uint64 // 累计借出成功数
	Waits              uint64 // 累计进入等待的次数
	Timeouts           uint64 // 累计获取超时次数
	CreateFailures     uint64 // 累计创建失败次数
	ValidationFailures uint64 // 累计校验失败次数
	WaitDuration       time.Duration
}

func (p *Pool) Stats() Stats {
	p.mx.Lock()
	s := Stats{
		MaxSize:  p.conf.MaxSize,
		MinIdle:  p.conf.MinIdle,
		Total:    p.total,
		Borrowed: p.borrowed,
		Idle:     p.idleList.Len(),
		Pending:  p.pending,
		Waiting:  p.getWaitCount(),
	}
	p.mx.Unlock()

	s.Created = p.counters.created.Load()
	s.Destroyed = p.counters.destroyed.Load()
	s.Evicted = p.counters.evicted.Load()
	s.Borrows = p.counters.borrows.Load()
	s.Waits = p.counters.waits.Load()
	s.Timeouts = p.counters.timeouts.Load()
	s.CreateFailures = p.counters.createFailures.Load()
	s.ValidationFailures = p.counters.validationFailures.Load()
	s.WaitDuration = time.Duration(p.counters.waitNanos.Load())
	return s
}
