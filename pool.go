package respool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Pool struct {
	conf    Config
	factory Factory
	log     logrus.FieldLogger

	mx         sync.Mutex
	idleList   *list.List // 空闲资源列表, 元素为 *item, 后进先出, 前端是最近归还的
	waitList   *list.List // 等待列表, 元素为 *waitReq
	total      int        // 已创建且未销毁的资源数, total = borrowed + idleList.Len()
	borrowed   int        // 借出的资源数
	pending    int        // 正在创建的资源数, 已经占用了容量
	destroying int        // 已移出但还未调用完 Destroy 的资源数
	closed     bool

	drained       chan struct{} // 关闭后所有资源都销毁完毕时关闭
	drainedClosed bool

	close      chan struct{} // 关闭信号
	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup // 回收循环和后台补充

	counters counters
}

type counters struct {
	created            atomic.Uint64
	destroyed          atomic.Uint64
	evicted            atomic.Uint64
	borrows            atomic.Uint64
	waits              atomic.Uint64
	timeouts           atomic.Uint64
	createFailures     atomic.Uint64
	validationFailures atomic.Uint64
	waitNanos          atomic.Int64
}

// New 创建并启动资源池. 会同步预热 MinIdle 个资源, 任何一个创建失败都会导致启动失败
func New(factory Factory, conf *Config) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: 未设置 Factory", ErrInvalidConfig)
	}
	if conf == nil {
		conf = NewConfig()
	}
	c := *conf // 启动后配置不可变
	if err := c.Check(); err != nil {
		return nil, fmt.Errorf("配置检查失败: %w", err)
	}

	p := &Pool{
		conf:    c,
		factory: factory,
		log:     c.Logger.WithField("component", "respool"),

		idleList: list.New(),
		waitList: list.New(),

		drained: make(chan struct{}),
		close:   make(chan struct{}),
	}
	p.baseCtx, p.baseCancel = context.WithCancel(context.Background())

	if err := p.prewarm(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("初始化资源失败: %w", err)
	}

	// 空闲回收循环
	p.wg.Add(1)
	go p.sweepLoop()

	p.log.WithFields(logrus.Fields{
		"min_idle": c.MinIdle,
		"max_size": c.MaxSize,
		"policy":   c.policy(),
	}).Info("资源池已启动")
	return p, nil
}

// Config 返回启动时的配置快照
func (p *Pool) Config() Config {
	return p.conf
}

// 同步创建 MinIdle 个空闲资源
func (p *Pool) prewarm() error {
	n := p.conf.MinIdle
	if n == 0 {
		return nil
	}

	p.mx.Lock()
	p.pending += n
	p.mx.Unlock()

	g, ctx := errgroup.WithContext(p.baseCtx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return p.createIdle(ctx)
		})
	}
	return g.Wait()
}

// Borrow 借出一个资源. 最长等待 AcquisitionTimeout 和 ctx 截止时间中较早的那个
func (p *Pool) Borrow(ctx context.Context) (*Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, p.conf.AcquisitionTimeout)
	defer cancel()

	res, err := p.borrow(ctx)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			p.counters.timeouts.Add(1)
		}
		return nil, err
	}
	p.counters.borrows.Add(1)
	return res, nil
}

func (p *Pool) borrow(ctx context.Context) (*Resource, error) {
	attempts := 0
	for {
		p.mx.Lock()
		if p.closed {
			p.mx.Unlock()
			return nil, ErrPoolClosed
		}

		var it *item
		var stale []*item
		// 公平模式下有人在等待时不能插队
		if !p.conf.Fair || p.waitList.Len() == 0 {
			it, stale = p.popIdleLocked()
			if it == nil && p.total+p.pending < p.conf.MaxSize {
				p.pending++
				p.mx.Unlock()
				p.destroyAll(stale, "空闲资源已失效")
				return p.createForBorrow(ctx)
			}
		}

		if it == nil {
			req, err := p.addWaitReqLocked()
			p.mx.Unlock()
			p.destroyAll(stale, "空闲资源已失效")
			if err != nil {
				return nil, err
			}
			p.counters.waits.Add(1)
			return p.waitReqGetResource(ctx, req)
		}

		res := p.lendLocked(it)
		p.mx.Unlock()
		p.destroyAll(stale, "空闲资源已失效")

		if !p.conf.ValidateOnBorrow || p.factory.Validate(ctx, it.v) {
			return res, nil
		}

		// 校验失败, 销毁后重新获取
		p.counters.validationFailures.Add(1)
		p.discardBorrowed(it, "借出校验失败")
		attempts++
		if attempts >= p.conf.ValidationAttempts {
			return nil, fmt.Errorf("%w: 连续%d次", ErrValidation, attempts)
		}
	}
}

/*从空闲列表弹出第一个可用的资源, 必须持有锁
  超过最大存活时间或者空闲超时的资源会被移出并返回, 由调用者在锁外销毁
*/
func (p *Pool) popIdleLocked() (*item, []*item) {
	var stale []*item
	now := time.Now()
	for p.idleList.Len() > 0 {
		it := p.idleList.Remove(p.idleList.Front()).(*item)
		if it.expired(now, p.conf.MaxLifetime) || it.idleTooLong(now, p.conf.IdleTimeout) {
			p.retireLocked(it)
			stale = append(stale, it)
			continue
		}
		return it, stale
	}
	return nil, stale
}

// 已占用创建名额的情况下为借用者创建资源
func (p *Pool) createForBorrow(ctx context.Context) (*Resource, error) {
	v, err := p.create(ctx)

	p.mx.Lock()
	p.pending--
	if err != nil {
		p.grantSlotsLocked() // 名额让给等待者
		p.checkDrainedLocked()
		p.mx.Unlock()
		return nil, err
	}
	if p.closed {
		p.checkDrainedLocked()
		p.mx.Unlock()
		p.destroyValue(v, "资源池已关闭")
		return nil, ErrPoolClosed
	}
	p.total++
	res := p.lendLocked(p.makeItem(v))
	p.mx.Unlock()
	return res, nil
}

// 已占用创建名额的情况下创建一个空闲资源
func (p *Pool) createIdle(ctx context.Context) error {
	v, err := p.create(ctx)

	p.mx.Lock()
	p.pending--
	if err != nil {
		p.grantSlotsLocked()
		p.checkDrainedLocked()
		p.mx.Unlock()
		return err
	}
	if p.closed {
		p.checkDrainedLocked()
		p.mx.Unlock()
		p.destroyValue(v, "资源池已关闭")
		return ErrPoolClosed
	}
	p.total++
	trash := p.putLocked(p.makeItem(v))
	p.mx.Unlock()

	if trash != nil {
		_ = p.destroy(trash, "超过最大闲置")
	}
	return nil
}

/*Release 归还资源. 资源损坏, 超过最大存活时间或者资源池已关闭时会被销毁
  每个 Resource 只能归还一次, 重复归还或者归还过期的 Resource 返回 ErrNotBorrowed
*/
func (p *Pool) Release(res *Resource) error {
	if res == nil || res.it == nil || res.it.pool != p {
		return ErrForeignResource
	}
	it := res.it

	// 先在锁内确认归属, 之后其他人不会再动这个资源
	p.mx.Lock()
	if it.state != stateBorrowed || it.gen != res.gen {
		p.mx.Unlock()
		return ErrNotBorrowed
	}
	it.state = stateReturning
	closed := p.closed
	p.mx.Unlock()

	broken := res.invalid.Load() || it.expired(time.Now(), p.conf.MaxLifetime)
	reason := "资源已损坏"
	if !broken && !closed {
		broken, reason = p.checkReturned(it)
	}

	p.mx.Lock()
	p.borrowed--

	var trash *item
	closed = p.closed
	if closed || broken {
		p.retireLocked(it)
		trash = it
		if closed {
			reason = "资源池已关闭"
		}
	} else {
		trash = p.putLocked(it)
		reason = "超过最大闲置"
	}
	p.mx.Unlock()

	if trash != nil {
		_ = p.destroy(trash, reason)
		if broken && !closed {
			p.replenish()
		}
	}
	return nil
}

// 归还时的校验和重置, 在锁外执行
func (p *Pool) checkReturned(it *item) (broken bool, reason string) {
	ctx, cancel := context.WithTimeout(p.baseCtx, p.conf.ConnectTimeout)
	defer cancel()

	if p.conf.ValidateOnReturn && !p.factory.Validate(ctx, it.v) {
		p.counters.validationFailures.Add(1)
		return true, "归还校验失败"
	}
	if r, ok := p.factory.(Resetter); ok {
		if err := r.Reset(ctx, it.v); err != nil {
			p.log.WithError(err).WithField("id", it.id).Debug("重置资源失败")
			return true, "重置失败"
		}
	}
	return false, ""
}

/*放入一个在手的资源, 必须持有锁
  资源已计入 total 但不在 borrowed 和空闲列表中. 有等待者时直接交给等待者,
  否则放入空闲列表. 返回需要在锁外销毁的资源
*/
func (p *Pool) putLocked(it *item) *item {
	it.lastUsed = time.Now()

	// 立即使用这个资源
	if req := p.popWaitReqLocked(); req != nil {
		req.ch <- waitResult{res: p.lendLocked(it)}
		return nil
	}

	if p.idleList.Len() >= p.conf.MaxIdle {
		p.retireLocked(it)
		return it
	}

	// 后进先出, 以便尽早被获取
	it.state = stateIdle
	p.idleList.PushFront(it)
	return nil
}

// 销毁一个已借出但不可用的资源
func (p *Pool) discardBorrowed(it *item, reason string) {
	p.mx.Lock()
	p.borrowed--
	p.retireLocked(it)
	p.mx.Unlock()
	_ = p.destroy(it, reason)
}

// 把资源从计数中移除, 必须持有锁. 调用者之后必须在锁外调用 destroy
func (p *Pool) retireLocked(it *item) {
	it.state = stateDestroyed
	p.total--
	p.destroying++
	p.grantSlotsLocked()
}

// 调用 Factory 销毁资源
func (p *Pool) destroy(it *item, reason string) error {
	err := p.factory.Destroy(it.v)
	p.counters.destroyed.Add(1)
	entry := p.log.WithFields(logrus.Fields{"id": it.id, "reason": reason})
	if err != nil {
		entry.WithError(err).Warn("销毁资源失败")
	} else {
		entry.Debug("资源已销毁")
	}

	p.mx.Lock()
	p.destroying--
	p.checkDrainedLocked()
	p.mx.Unlock()
	return err
}

func (p *Pool) destroyAll(list []*item, reason string) {
	for _, it := range list {
		_ = p.destroy(it, reason)
	}
}

// 销毁一个不在 total 中的真实资源
func (p *Pool) destroyValue(v interface{}, reason string) {
	p.counters.destroyed.Add(1)
	if err := p.factory.Destroy(v); err != nil {
		p.log.WithError(err).WithField("reason", reason).Warn("销毁资源失败")
	}
}

// 关闭后资源全部销毁完毕时通知 Shutdown, 必须持有锁
func (p *Pool) checkDrainedLocked() {
	if p.closed && !p.drainedClosed && p.total == 0 && p.pending == 0 && p.destroying == 0 {
		close(p.drained)
		p.drainedClosed = true
	}
}

// 资源池是否已关闭
func (p *Pool) isClose() bool {
	select {
	case <-p.close:
		return true
	default:
		return false
	}
}

// Close 关闭资源池, 销毁空闲资源, 不等待借出的资源归还. 借出的资源归还时会被销毁
func (p *Pool) Close() error {
	_, err := p.closePool()
	return err
}

/*Shutdown 关闭资源池并等待所有借出的资源归还并销毁, 或者ctx结束.
  销毁失败不会中断关闭流程, 所有错误会合并返回. 重复调用什么都不做
*/
func (p *Pool) Shutdown(ctx context.Context) error {
	first, err := p.closePool()
	if !first {
		return nil
	}

	select {
	case <-p.drained:
		return err
	case <-ctx.Done():
		p.mx.Lock()
		borrowed := p.borrowed
		p.mx.Unlock()
		return errors.Join(err, fmt.Errorf("等待%d个借出的资源归还: %w", borrowed, ctx.Err()))
	}
}

func (p *Pool) closePool() (bool, error) {
	p.mx.Lock()
	if p.closed {
		p.mx.Unlock()
		return false, nil
	}
	p.closed = true
	close(p.close)
	p.baseCancel()

	// 所有等待者立即失败
	for req := p.popWaitReqLocked(); req != nil; req = p.popWaitReqLocked() {
		req.ch <- waitResult{err: ErrPoolClosed}
	}

	idle := make([]*item, 0, p.idleList.Len())
	for p.idleList.Len() > 0 {
		it := p.idleList.Remove(p.idleList.Front()).(*item)
		p.retireLocked(it)
		idle = append(idle, it)
	}
	borrowed := p.borrowed
	p.checkDrainedLocked()
	p.mx.Unlock()

	// 等待回收循环和后台创建退出
	p.wg.Wait()

	var errs []error
	for _, it := range idle {
		if err := p.destroy(it, "资源池关闭"); err != nil {
			errs = append(errs, err)
		}
	}

	p.log.WithFields(logrus.Fields{
		"destroyed": len(idle),
		"borrowed":  borrowed,
		"errors":    len(errs),
	}).Info("资源池已关闭")
	return true, errors.Join(errs...)
}
