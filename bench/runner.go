// Package bench 以多个 worker 并发地借出和归还资源, 统计吞吐量和延迟
package bench

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zlyuancn/respool"
)

const benchQuery = "INSERT INTO test (column) VALUES (?)"

var ErrNotSQLConn = errors.New("资源不是 driver.Conn")

// Borrower 被测试的资源池
type Borrower interface {
	Borrow(ctx context.Context) (*respool.Resource, error)
	Release(res *respool.Resource) error
}

// WorkFunc 持有资源期间执行的工作, 返回错误时资源会被标记为无效
type WorkFunc func(ctx context.Context, v interface{}) error

type RunConfig struct {
	Workers    int
	Duration   time.Duration // Iterations 大于0时忽略
	Iterations int           // 每个worker执行的次数
	HoldTime   time.Duration
	Work       WorkFunc // 为nil时只借出和归还
	Logger     logrus.FieldLogger
}

type Result struct {
	Ops          uint64 // 完成的借出-归还次数
	Timeouts     uint64 // 获取超时次数
	BorrowErrors uint64 // 除超时外的借出失败次数
	WorkErrors   uint64 // 工作失败次数
	Elapsed      time.Duration
	Throughput   float64 // 每秒完成的次数

	Mean time.Duration
	P50  time.Duration
	P99  time.Duration
	Max  time.Duration
}

func (r *Result) Fields() logrus.Fields {
	return logrus.Fields{
		"ops":           r.Ops,
		"timeouts":      r.Timeouts,
		"borrow_errors": r.BorrowErrors,
		"work_errors":   r.WorkErrors,
		"elapsed":       r.Elapsed,
		"ops_per_sec":   fmt.Sprintf("%.1f", r.Throughput),
		"mean":          r.Mean,
		"p50":           r.P50,
		"p99":           r.P99,
		"max":           r.Max,
	}
}

// Run 运行压测直到时间结束或者每个worker完成 Iterations 次, ctx 结束时提前停止
func Run(ctx context.Context, b Borrower, rc RunConfig) (*Result, error) {
	if rc.Workers < 1 {
		return nil, errors.New("workers 必须大于0")
	}
	if rc.Iterations < 1 && rc.Duration <= 0 {
		return nil, errors.New("duration 和 iterations 至少设置一个")
	}
	log := rc.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if rc.Iterations < 1 {
		runCtx, cancel = context.WithTimeout(ctx, rc.Duration)
	}
	defer cancel()

	var res Result
	latencies := make([][]float64, rc.Workers)
	g, gctx := errgroup.WithContext(runCtx)
	start := time.Now()
	for i := 0; i < rc.Workers; i++ {
		i := i
		g.Go(func() error {
			lat, err := runWorker(gctx, b, rc, &res)
			latencies[i] = lat
			return err
		})
	}
	err := g.Wait()
	res.Elapsed = time.Since(start)
	if err != nil {
		return nil, err
	}

	var all stats.Float64Data
	for _, l := range latencies {
		all = append(all, l...)
	}
	fillLatency(&res, all)
	if secs := res.Elapsed.Seconds(); secs > 0 {
		res.Throughput = float64(res.Ops) / secs
	}
	log.WithFields(res.Fields()).Debug("压测完成")
	return &res, nil
}

// 单个worker, 返回每次借出-归还的耗时(纳秒)
func runWorker(ctx context.Context, b Borrower, rc RunConfig, res *Result) ([]float64, error) {
	var lat []float64
	for n := 0; rc.Iterations < 1 || n < rc.Iterations; n++ {
		if ctx.Err() != nil {
			return lat, nil
		}

		start := time.Now()
		r, err := b.Borrow(ctx)
		if err != nil {
			if ctx.Err() != nil { // 压测结束
				return lat, nil
			}
			switch {
			case errors.Is(err, respool.ErrPoolClosed):
				return lat, err
			case errors.Is(err, respool.ErrTimeout):
				atomic.AddUint64(&res.Timeouts, 1)
			default:
				atomic.AddUint64(&res.BorrowErrors, 1)
			}
			continue
		}

		if rc.Work != nil {
			if err := rc.Work(ctx, r.Value()); err != nil {
				atomic.AddUint64(&res.WorkErrors, 1)
				r.Invalidate()
			}
		}
		if rc.HoldTime > 0 {
			hold(ctx, rc.HoldTime)
		}
		if err := b.Release(r); err != nil {
			return lat, fmt.Errorf("归还资源失败: %w", err)
		}

		lat = append(lat, float64(time.Since(start)))
		atomic.AddUint64(&res.Ops, 1)
	}
	return lat, nil
}

func hold(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func fillLatency(res *Result, data stats.Float64Data) {
	if len(data) == 0 {
		return
	}
	mean, _ := stats.Mean(data)
	p50, _ := stats.Percentile(data, 50)
	p99, _ := stats.Percentile(data, 99)
	maxLat, _ := stats.Max(data)
	res.Mean = time.Duration(mean)
	res.P50 = time.Duration(p50)
	res.P99 = time.Duration(p99)
	res.Max = time.Duration(maxLat)
}

// WorkFor 返回模式对应的工作
func WorkFor(mode string) (WorkFunc, error) {
	switch mode {
	case ModeConnection, "":
		return nil, nil
	case ModeStatement:
		return StatementWork, nil
	}
	return nil, fmt.Errorf("未知的模式: %q", mode)
}

// StatementWork 在 driver.Conn 上准备并关闭一个语句
func StatementWork(ctx context.Context, v interface{}) error {
	conn, ok := v.(driver.Conn)
	if !ok {
		return ErrNotSQLConn
	}

	var (
		st  driver.Stmt
		err error
	)
	if pc, ok := conn.(driver.ConnPrepareContext); ok {
		st, err = pc.PrepareContext(ctx, benchQuery)
	} else {
		st, err = conn.Prepare(benchQuery)
	}
	if err != nil {
		return err
	}
	return st.Close()
}
