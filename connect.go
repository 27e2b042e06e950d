package respool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

/*创建一个真实资源
  每次尝试最多 ConnectTimeout, 最多尝试 CreateAttempts 次. ctx 结束时立即返回
*/
func (p *Pool) create(ctx context.Context) (interface{}, error) {
	var lastErr error
	for i := 1; i <= p.conf.CreateAttempts; i++ {
		v, err := p.createOnce(ctx)
		if err == nil {
			p.counters.created.Add(1)
			return v, nil
		}

		p.counters.createFailures.Add(1)
		if ctx.Err() != nil {
			if p.isClose() {
				return nil, ErrPoolClosed
			}
			return nil, ctxErr(ctx)
		}
		lastErr = err
		p.log.WithError(err).WithField("attempt", i).Warn("创建资源失败")
	}
	return nil, &CreationError{Attempts: p.conf.CreateAttempts, Err: lastErr}
}

// 单次创建, 超时后才完成的资源会被直接销毁
func (p *Pool) createOnce(ctx context.Context) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, p.conf.ConnectTimeout)
	defer cancel()

	type result struct {
		v   interface{}
		err error
	}
	done := make(chan result, 1)
	var mx sync.Mutex
	abandoned := false

	// 协程创建
	go func() {
		v, err := p.factory.Create(ctx)
		mx.Lock()
		defer mx.Unlock()
		if abandoned { // 调用方已经放弃了, 自行处理
			if err == nil {
				p.counters.created.Add(1)
				p.destroyValue(v, "创建超时")
			}
			return
		}
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
	}

	mx.Lock()
	defer mx.Unlock()
	select {
	case r := <-done: // 刚好完成了, 仍然认可
		return r.v, r.err
	default:
		abandoned = true
		return nil, ctx.Err()
	}
}

// 补充缺少的空闲资源, 不超过 MaxSize
func (p *Pool) replenish() {
	p.mx.Lock()
	if p.closed {
		p.mx.Unlock()
		return
	}
	need := p.checkNeedCount()
	if need < 1 {
		p.mx.Unlock()
		return
	}
	p.pending += need
	p.wg.Add(need)
	p.mx.Unlock()

	for i := 0; i < need; i++ {
		go func() {
			defer p.wg.Done()
			// 失败时不在这里重试, 下一次回收检查时会再次补充
			if err := p.createIdle(p.baseCtx); err != nil && !errors.Is(err, ErrPoolClosed) {
				p.log.WithError(err).Warn("补充空闲资源失败")
			}
		}()
	}
}

// 检查需要补充多少资源, 必须持有锁
func (p *Pool) checkNeedCount() int {
	need := p.conf.MinIdle - p.idleList.Len() - p.pending
	if room := p.conf.MaxSize - p.total - p.pending; need > room {
		need = room
	}
	return need
}

// 空闲回收循环
func (p *Pool) sweepLoop() {
	defer p.wg.Done()

	t := time.NewTicker(p.conf.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-p.close:
			return
		case <-t.C:
			// 先释放, 再申请, 那么在缺资源的情况下就不会释放正常的资源
			p.sweep()
			p.replenish()
		}
	}
}

/*回收空闲资源
  从最久未使用的一端开始, 回收超过最大存活时间的资源, 以及空闲超时或者超过最大闲置的资源,
  后两者不会让空闲数低于 MinIdle. 与借出使用同一把锁, 所以不会回收正在被借出的资源
*/
func (p *Pool) sweep() int {
	now := time.Now()

	p.mx.Lock()
	if p.closed {
		p.mx.Unlock()
		return 0
	}

	var evicted []*item
	for e := p.idleList.Back(); e != nil; {
		prev := e.Prev()
		it := e.Value.(*item)
		idle := p.idleList.Len()
		if it.expired(now, p.conf.MaxLifetime) ||
			(idle > p.conf.MinIdle && (it.idleTooLong(now, p.conf.IdleTimeout) || idle > p.conf.MaxIdle)) {
			p.idleList.Remove(e)
			p.retireLocked(it)
			evicted = append(evicted, it)
		}
		e = prev
	}
	p.mx.Unlock()

	if len(evicted) == 0 {
		return 0
	}
	p.counters.evicted.Add(uint64(len(evicted)))
	p.destroyAll(evicted, "空闲回收")
	p.log.WithFields(logrus.Fields{"evicted": len(evicted)}).Debug("回收空闲资源")
	return len(evicted)
}
