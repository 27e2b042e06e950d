// Package sqlfactory 把任意 database/sql/driver.Connector 适配为 respool.Factory,
// 资源池中的资源是 driver.Conn
package sqlfactory

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/zlyuancn/respool"
)

var ErrNotDriverConn = errors.New("sqlfactory: 资源不是 driver.Conn")

const defPingTimeout = time.Second

type Factory struct {
	connector   driver.Connector
	pingTimeout time.Duration
}

var (
	_ respool.Factory  = (*Factory)(nil)
	_ respool.Resetter = (*Factory)(nil)
)

// New 创建工厂, pingTimeout 小于1时使用默认值
func New(connector driver.Connector, pingTimeout time.Duration) *Factory {
	if pingTimeout < 1 {
		pingTimeout = defPingTimeout
	}
	return &Factory{connector: connector, pingTimeout: pingTimeout}
}

func (f *Factory) Create(ctx context.Context) (interface{}, error) {
	conn, err := f.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlfactory: connect: %w", err)
	}
	return conn, nil
}

// Validate 依次使用 driver.Validator 和 driver.Pinger 检查连接, 都没有实现时视为有效
func (f *Factory) Validate(ctx context.Context, v interface{}) bool {
	conn, ok := v.(driver.Conn)
	if !ok {
		return false
	}
	if vc, ok := conn.(driver.Validator); ok && !vc.IsValid() {
		return false
	}
	if pc, ok := conn.(driver.Pinger); ok {
		ctx, cancel := context.WithTimeout(ctx, f.pingTimeout)
		defer cancel()
		return pc.Ping(ctx) == nil
	}
	return true
}

// Reset 归还时重置会话, 相当于 rollback-on-return
func (f *Factory) Reset(ctx context.Context, v interface{}) error {
	conn, ok := v.(driver.Conn)
	if !ok {
		return ErrNotDriverConn
	}
	if sr, ok := conn.(driver.SessionResetter); ok {
		return sr.ResetSession(ctx)
	}
	return nil
}

func (f *Factory) Destroy(v interface{}) error {
	conn, ok := v.(driver.Conn)
	if !ok {
		return ErrNotDriverConn
	}
	return conn.Close()
}
