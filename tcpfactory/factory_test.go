package tcpfactory

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 接受连接并保持, 由测试决定何时断开
type server struct {
	ln    net.Listener
	mx    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

func newServer(t *testing.T) *server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &server{ln: ln}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.mx.Lock()
			s.conns = append(s.conns, c)
			s.mx.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
		s.closeAll()
	})
	return s
}

func (s *server) closeAll() {
	s.mx.Lock()
	defer s.mx.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *server) waitConns(t *testing.T, n int) {
	require.Eventually(t, func() bool {
		s.mx.Lock()
		defer s.mx.Unlock()
		return len(s.conns) >= n
	}, time.Second, time.Millisecond)
}

func TestFactory(t *testing.T) {
	s := newServer(t)
	f := New(s.ln.Addr().String())

	v, err := f.Create(context.Background())
	require.NoError(t, err)
	s.waitConns(t, 1)
	require.True(t, f.Validate(context.Background(), v))
	// 检查后连接仍可用
	require.True(t, f.Validate(context.Background(), v))

	s.closeAll()
	require.Eventually(t, func() bool {
		return !f.Validate(context.Background(), v)
	}, time.Second, time.Millisecond*5)

	require.NoError(t, f.Destroy(v))
	require.False(t, f.Validate(context.Background(), v))
}

func TestFactoryUnsolicitedData(t *testing.T) {
	s := newServer(t)
	f := New(s.ln.Addr().String())

	v, err := f.Create(context.Background())
	require.NoError(t, err)
	defer f.Destroy(v)
	s.waitConns(t, 1)

	s.mx.Lock()
	_, err = s.conns[0].Write([]byte("x"))
	s.mx.Unlock()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !f.Validate(context.Background(), v)
	}, time.Second, time.Millisecond*5)
}

func TestFactoryDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	f := New(addr)
	_, err = f.Create(context.Background())
	require.Error(t, err)
}

func TestFactoryDialCanceled(t *testing.T) {
	s := newServer(t)
	f := New(s.ln.Addr().String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Create(ctx)
	require.Error(t, err)
}

func TestFactoryWrongType(t *testing.T) {
	f := New("127.0.0.1:1")
	require.False(t, f.Validate(context.Background(), 1))
	require.ErrorIs(t, f.Destroy(1), ErrNotTCPConn)
}
