// Package tcpfactory 提供 TCP 连接的 respool.Factory
package tcpfactory

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/zlyuancn/respool"
)

var ErrNotTCPConn = errors.New("tcpfactory: 资源不是 net.Conn")

const (
	defDialTimeout  = 3 * time.Second
	defProbeTimeout = time.Millisecond
)

type Factory struct {
	Addr         string
	DialTimeout  time.Duration // 拨号超时, 同时受 ctx 约束
	ProbeTimeout time.Duration // 检查存活时的读超时
}

var _ respool.Factory = (*Factory)(nil)

func New(addr string) *Factory {
	return &Factory{Addr: addr, DialTimeout: defDialTimeout, ProbeTimeout: defProbeTimeout}
}

func (f *Factory) Create(ctx context.Context) (interface{}, error) {
	d := net.Dialer{Timeout: f.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", f.Addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

/*检查连接是否存活
  以很短的读超时读一次, 读超时说明对端仍然保持连接.
  读到 EOF 或者其他错误说明连接已断开, 空闲连接上读到了数据说明协议已经错乱, 同样视为无效
*/
func (f *Factory) Validate(_ context.Context, v interface{}) bool {
	conn, ok := v.(net.Conn)
	if !ok {
		return false
	}
	probe := f.ProbeTimeout
	if probe < 1 {
		probe = defProbeTimeout
	}
	if err := conn.SetReadDeadline(time.Now().Add(probe)); err != nil {
		return false
	}
	defer conn.SetReadDeadline(time.Time{})

	var buf [1]byte
	_, err := conn.Read(buf[:])
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func (f *Factory) Destroy(v interface{}) error {
	conn, ok := v.(net.Conn)
	if !ok {
		return ErrNotTCPConn
	}
	return conn.Close()
}
