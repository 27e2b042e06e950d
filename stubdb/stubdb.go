// Package stubdb 是一个不做任何IO的 database/sql/driver 实现, 用于在没有真实数据库时测量资源池本身的开销.
// 可以通过选项注入连接延迟和连接失败.
package stubdb

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"sync/atomic"
	"time"
)

var (
	ErrConnectRefused = errors.New("stubdb: connect refused")
	ErrConnClosed     = driver.ErrBadConn
)

type Option func(c *Connector)

// WithConnectDelay 每次连接耗时
func WithConnectDelay(d time.Duration) Option {
	return func(c *Connector) { c.connectDelay = d }
}

// WithFailEvery 每 n 次连接失败一次, n 小于1表示不失败
func WithFailEvery(n int64) Option {
	return func(c *Connector) { c.failEvery = n }
}

// Connector 实现了 driver.Connector 和 driver.Driver
type Connector struct {
	connectDelay time.Duration
	failEvery    int64

	attempts atomic.Int64
	opened   atomic.Int64
	closed   atomic.Int64
}

func NewConnector(opts ...Option) *Connector {
	c := &Connector{}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	n := c.attempts.Add(1)
	if c.connectDelay > 0 {
		t := time.NewTimer(c.connectDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.failEvery > 0 && n%c.failEvery == 0 {
		return nil, ErrConnectRefused
	}
	c.opened.Add(1)
	return &Conn{connector: c}, nil
}

func (c *Connector) Driver() driver.Driver { return c }

// Open 实现 driver.Driver, 忽略 dsn
func (c *Connector) Open(string) (driver.Conn, error) {
	return c.Connect(context.Background())
}

// Opened 成功打开的连接数
func (c *Connector) Opened() int64 { return c.opened.Load() }

// Closed 已关闭的连接数
func (c *Connector) Closed() int64 { return c.closed.Load() }

type Conn struct {
	connector *Connector
	closed    atomic.Bool
	broken    atomic.Bool
	inTx      atomic.Bool
	prepared  atomic.Int64
}

// Break 模拟连接断开, 之后的 Ping 和 IsValid 都会失败
func (c *Conn) Break() { c.broken.Store(true) }

// Prepared 这个连接上预处理过的语句数
func (c *Conn) Prepared() int64 { return c.prepared.Load() }

func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	if !c.IsValid() {
		return nil, ErrConnClosed
	}
	c.prepared.Add(1)
	return &stmt{}, nil
}

func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return ErrConnClosed
	}
	c.connector.closed.Add(1)
	return nil
}

func (c *Conn) Begin() (driver.Tx, error) {
	if !c.IsValid() {
		return nil, ErrConnClosed
	}
	c.inTx.Store(true)
	return &tx{conn: c}, nil
}

func (c *Conn) Ping(ctx context.Context) error {
	if c.closed.Load() || c.broken.Load() {
		return ErrConnClosed
	}
	return nil
}

func (c *Conn) IsValid() bool {
	return !c.closed.Load() && !c.broken.Load()
}

// ResetSession 回滚未结束的事务
func (c *Conn) ResetSession(ctx context.Context) error {
	if !c.IsValid() {
		return ErrConnClosed
	}
	c.inTx.Store(false)
	return nil
}

// InTx 是否有未结束的事务
func (c *Conn) InTx() bool { return c.inTx.Load() }

type tx struct{ conn *Conn }

func (t *tx) Commit() error   { t.conn.inTx.Store(false); return nil }
func (t *tx) Rollback() error { t.conn.inTx.Store(false); return nil }

type stmt struct{}

func (s *stmt) Close() error  { return nil }
func (s *stmt) NumInput() int { return -1 }

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return driver.RowsAffected(0), nil
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return &rows{}, nil
}

type rows struct{}

func (r *rows) Columns() []string              { return nil }
func (r *rows) Close() error                   { return nil }
func (r *rows) Next(dest []driver.Value) error { return io.EOF }

var (
	_ driver.Connector       = (*Connector)(nil)
	_ driver.Driver          = (*Connector)(nil)
	_ driver.Pinger          = (*Conn)(nil)
	_ driver.Validator       = (*Conn)(nil)
	_ driver.SessionResetter = (*Conn)(nil)
)
