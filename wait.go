package respool

import (
	"container/list"
	"context"
	"errors"
	"time"
)

// 等待结果, 三个字段只会有一个生效
type waitResult struct {
	res  *Resource // 直接交付的资源
	slot bool      // 获得了一个创建名额, 等待者需要自己创建资源
	err  error
}

type waitReq struct {
	ch        chan waitResult // 缓冲为1, 只会在池锁内被写入一次
	e         *list.Element   // 在等待列表中的位置, 出队后为nil
	enqueueAt time.Time
}

// 等待的数量
func (p *Pool) getWaitCount() int {
	return p.waitList.Len()
}

// 添加等待req, 必须持有锁
func (p *Pool) addWaitReqLocked() (*waitReq, error) {
	if p.conf.MaxWaitCount > 0 && p.waitList.Len() >= p.conf.MaxWaitCount {
		return nil, ErrMaxWaitLimit
	}

	req := &waitReq{
		ch:        make(chan waitResult, 1),
		enqueueAt: time.Now(),
	}
	req.e = p.waitList.PushBack(req) // 放入末尾
	return req, nil
}

/*取出一个等待者, 必须持有锁
  公平模式下先进先出, 否则后进先出
*/
func (p *Pool) popWaitReqLocked() *waitReq {
	if p.waitList.Len() == 0 {
		return nil
	}

	e := p.waitList.Back()
	if p.conf.Fair {
		e = p.waitList.Front()
	}
	req := p.waitList.Remove(e).(*waitReq)
	req.e = nil
	return req
}

// 有空余容量时把创建名额交给等待者, 必须持有锁
func (p *Pool) grantSlotsLocked() {
	if p.closed {
		return
	}
	for p.waitList.Len() > 0 && p.total+p.pending < p.conf.MaxSize {
		req := p.popWaitReqLocked()
		p.pending++
		req.ch <- waitResult{slot: true}
	}
}

// 等待req被满足
func (p *Pool) waitReqGetResource(ctx context.Context, req *waitReq) (*Resource, error) {
	defer func() {
		p.counters.waitNanos.Add(int64(time.Since(req.enqueueAt)))
	}()

	select {
	case r := <-req.ch:
		return p.takeWaitResult(ctx, r)
	case <-ctx.Done():
	}

	p.mx.Lock()
	if req.e != nil { // 仍在等待列表中, 直接移除
		p.waitList.Remove(req.e)
		req.e = nil
		p.mx.Unlock()
		return nil, ctxErr(ctx)
	}

	// 超时的同时已经被满足了, 结果一定已经在ch中, 需要转交出去而不是丢掉
	r := <-req.ch
	var trash *item
	switch {
	case r.res != nil:
		p.borrowed--
		if p.closed {
			p.retireLocked(r.res.it)
			trash = r.res.it
		} else {
			trash = p.putLocked(r.res.it)
		}
	case r.slot:
		p.pending--
		p.grantSlotsLocked()
		p.checkDrainedLocked()
	}
	p.mx.Unlock()

	if trash != nil {
		_ = p.destroy(trash, "超时后转交失败")
	}
	if r.err != nil {
		return nil, r.err
	}
	return nil, ctxErr(ctx)
}

func (p *Pool) takeWaitResult(ctx context.Context, r waitResult) (*Resource, error) {
	switch {
	case r.err != nil:
		return nil, r.err
	case r.res != nil:
		return r.res, nil
	default:
		return p.createForBorrow(ctx)
	}
}

// 把ctx的错误转换为池的错误
func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
