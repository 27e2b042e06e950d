package bench

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/zlyuancn/respool"
	"github.com/zlyuancn/respool/sqlfactory"
	"github.com/zlyuancn/respool/stubdb"
	"github.com/zlyuancn/respool/tcpfactory"
)

const (
	BackendStub  = "stub"
	BackendMySQL = "mysql"
	BackendTCP   = "tcp"
)

var ErrUnknownBackend = errors.New("未知的后端")

// BackendBuilder 根据配置创建资源工厂
type BackendBuilder func(conf BackendSection) (respool.Factory, error)

var backends = map[string]BackendBuilder{
	BackendStub:  newStubBackend,
	BackendMySQL: newMySQLBackend,
	BackendTCP:   newTCPBackend,
}

// RegisterBackend 注册后端, 必须在 NewFactory 之前调用, 重名时覆盖
func RegisterBackend(kind string, b BackendBuilder) {
	backends[kind] = b
}

func NewFactory(conf BackendSection) (respool.Factory, error) {
	b, ok := backends[conf.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, conf.Kind)
	}
	return b(conf)
}

func newStubBackend(conf BackendSection) (respool.Factory, error) {
	var opts []stubdb.Option
	if conf.Latency > 0 {
		opts = append(opts, stubdb.WithConnectDelay(conf.Latency.D()))
	}
	if conf.FailEvery > 0 {
		opts = append(opts, stubdb.WithFailEvery(conf.FailEvery))
	}
	return sqlfactory.New(stubdb.NewConnector(opts...), 0), nil
}

func newMySQLBackend(conf BackendSection) (respool.Factory, error) {
	if conf.DSN == "" {
		return nil, errors.New("mysql 后端需要设置 backend.dsn")
	}
	cfg, err := mysql.ParseDSN(conf.DSN)
	if err != nil {
		return nil, fmt.Errorf("解析 dsn 失败: %w", err)
	}
	c, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return sqlfactory.New(c, 0), nil
}

func newTCPBackend(conf BackendSection) (respool.Factory, error) {
	if conf.Address == "" {
		return nil, errors.New("tcp 后端需要设置 backend.address")
	}
	return tcpfactory.New(conf.Address), nil
}
