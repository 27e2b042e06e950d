package bench

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"

	"github.com/zlyuancn/respool"
)

const (
	defMaxSize            = 32
	defAcquisitionTimeout = 8 * time.Second
	defWorkers            = 8
	defDuration           = 10 * time.Second
)

const (
	ModeConnection = "connection" // 只借出和归还
	ModeStatement  = "statement"  // 借出后在连接上准备并关闭一个语句
)

// Duration 以 "1.5s" 这种格式出现在配置文件中
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

type Config struct {
	Pool    PoolSection    `toml:"pool"`
	Bench   BenchSection   `toml:"bench"`
	Backend BackendSection `toml:"backend"`
}

// PoolSection 对应 respool.Config, 零值表示使用资源池的默认值
type PoolSection struct {
	MinIdle            int      `toml:"min_idle"`
	MaxSize            int      `toml:"max_size"`
	MaxIdle            int      `toml:"max_idle"`
	AcquisitionTimeout Duration `toml:"acquisition_timeout"`
	IdleTimeout        Duration `toml:"idle_timeout"`
	MaxLifetime        Duration `toml:"max_lifetime"`
	SweepInterval      Duration `toml:"sweep_interval"`
	ConnectTimeout     Duration `toml:"connect_timeout"`
	CreateAttempts     int      `toml:"create_attempts"`
	ValidationAttempts int      `toml:"validation_attempts"`
	ValidateOnBorrow   bool     `toml:"validate_on_borrow"`
	ValidateOnReturn   bool     `toml:"validate_on_return"`
	Fair               bool     `toml:"fair"`
	MaxWaitCount       int      `toml:"max_wait_count"`
}

type BenchSection struct {
	Workers    int      `toml:"workers"`
	Duration   Duration `toml:"duration"`   // 运行时长, Iterations 大于0时忽略
	Iterations int      `toml:"iterations"` // 每个worker执行的次数
	Mode       string   `toml:"mode"`
	AutoScale  bool     `toml:"auto_scale"` // statement 模式下把 MaxSize 提升到 worker 数
	HoldTime   Duration `toml:"hold_time"`  // 每次借出后持有资源的时间
}

type BackendSection struct {
	Kind      string   `toml:"kind"`
	DSN       string   `toml:"dsn"`
	Address   string   `toml:"address"`
	Latency   Duration `toml:"latency"`    // stub 后端的建连延迟
	FailEvery int64    `toml:"fail_every"` // stub 后端每n次建连失败一次
}

func DefaultConfig() *Config {
	return &Config{
		Pool: PoolSection{
			MaxSize:            defMaxSize,
			AcquisitionTimeout: Duration(defAcquisitionTimeout),
		},
		Bench: BenchSection{
			Workers:  defWorkers,
			Duration: Duration(defDuration),
			Mode:     ModeConnection,
		},
		Backend: BackendSection{
			Kind: BackendStub,
		},
	}
}

// LoadConfig 读取 TOML 配置文件, 文件不存在时返回默认配置. 不做校验, 调用者合并命令行参数后再调用 Validate
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Bench.Workers < 1 {
		return errors.New("bench.workers 必须大于0")
	}
	if c.Bench.Iterations < 0 {
		return errors.New("bench.iterations 不能为负数")
	}
	if c.Bench.Iterations == 0 && c.Bench.Duration <= 0 {
		return errors.New("bench.duration 和 bench.iterations 至少设置一个")
	}
	if c.Bench.HoldTime < 0 {
		return errors.New("bench.hold_time 不能为负数")
	}
	switch c.Bench.Mode {
	case ModeConnection:
	case ModeStatement:
		if c.Backend.Kind == BackendTCP {
			return errors.New("tcp 后端不支持 statement 模式")
		}
	default:
		return fmt.Errorf("未知的 bench.mode: %q", c.Bench.Mode)
	}
	if _, ok := backends[c.Backend.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend.Kind)
	}
	return nil
}

/*statement 模式下如果 MaxSize 小于 worker 数, 把 MaxSize 提升到 worker 数.
  资源池本身把 MaxSize 当作硬上限, 这里只在显式开启 auto_scale 时才修改配置
*/
func (c *Config) ApplyAutoScale(log logrus.FieldLogger) bool {
	if !c.Bench.AutoScale || c.Bench.Mode != ModeStatement {
		return false
	}
	if c.Pool.MaxSize >= c.Bench.Workers {
		return false
	}
	log.WithFields(logrus.Fields{
		"max_size": c.Pool.MaxSize,
		"workers":  c.Bench.Workers,
	}).Warn("statement 模式下 max_size 小于 worker 数, 提升 max_size")
	c.Pool.MaxSize = c.Bench.Workers
	return true
}

func (c *Config) PoolConfig(log logrus.FieldLogger) *respool.Config {
	conf := respool.NewConfig()
	p := c.Pool
	conf.MinIdle = p.MinIdle
	conf.MaxSize = p.MaxSize
	conf.MaxIdle = p.MaxIdle
	conf.CreateAttempts = p.CreateAttempts
	conf.ValidationAttempts = p.ValidationAttempts
	conf.ValidateOnBorrow = p.ValidateOnBorrow
	conf.ValidateOnReturn = p.ValidateOnReturn
	conf.Fair = p.Fair
	conf.MaxWaitCount = p.MaxWaitCount
	conf.MaxLifetime = p.MaxLifetime.D()
	if p.IdleTimeout > 0 {
		conf.IdleTimeout = p.IdleTimeout.D()
	}
	if p.AcquisitionTimeout > 0 {
		conf.AcquisitionTimeout = p.AcquisitionTimeout.D()
	}
	if p.SweepInterval > 0 {
		conf.SweepInterval = p.SweepInterval.D()
	}
	if p.ConnectTimeout > 0 {
		conf.ConnectTimeout = p.ConnectTimeout.D()
	}
	conf.Logger = log
	return conf
}

func (c *Config) RunConfig(log logrus.FieldLogger) (RunConfig, error) {
	work, err := WorkFor(c.Bench.Mode)
	if err != nil {
		return RunConfig{}, err
	}
	return RunConfig{
		Workers:    c.Bench.Workers,
		Duration:   c.Bench.Duration.D(),
		Iterations: c.Bench.Iterations,
		HoldTime:   c.Bench.HoldTime.D(),
		Work:       work,
		Logger:     log,
	}, nil
}
