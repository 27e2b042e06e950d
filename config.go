package respool

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// 最小闲置
	defMinIdle = 0
	// 最大资源数
	defMaxSize = 10
	// 等待获取资源的超时时间
	defAcquisitionTimeout = time.Second * 8
	// 空闲资源超时时间
	defIdleTimeout = time.Minute * 30
	// 创建资源超时
	defConnectTimeout = time.Second * 5
	// 创建资源最多尝试次数
	defCreateAttempts = 1
	// 借出时校验失败最多重试次数
	defValidationAttempts = 3
	// 检查空闲间隔
	defSweepInterval = time.Second * 5
)

type Config struct {
	MinIdle            int           `toml:"min_idle"`            // 最小闲置, 启动时会同步创建这么多资源
	MaxSize            int           `toml:"max_size"`            // 最大资源数, 包含借出的和空闲的, 是硬上限
	MaxIdle            int           `toml:"max_idle"`            // 最大闲置, 小于1表示等于 MaxSize
	AcquisitionTimeout time.Duration `toml:"acquisition_timeout"` // 等待获取资源的超时时间
	IdleTimeout        time.Duration `toml:"idle_timeout"`        // 空闲超时时间, 超过这个时间未使用的资源会被回收, 小于1表示永不超时
	MaxLifetime        time.Duration `toml:"max_lifetime"`        // 一个资源最大存活时间, 小于1表示不限制
	SweepInterval      time.Duration `toml:"sweep_interval"`      // 检查空闲间隔
	ConnectTimeout     time.Duration `toml:"connect_timeout"`     // 单次创建资源超时
	CreateAttempts     int           `toml:"create_attempts"`     // 创建资源最多尝试次数
	ValidationAttempts int           `toml:"validation_attempts"` // 借出时校验失败最多重试次数
	ValidateOnBorrow   bool          `toml:"validate_on_borrow"`  // 借出空闲资源前校验
	ValidateOnReturn   bool          `toml:"validate_on_return"`  // 归还时校验
	Fair               bool          `toml:"fair"`                // 公平模式, 等待者严格先进先出, 且新请求不能插队. 非公平模式下后进先出, 最早的等待者可能一直等到超时
	MaxWaitCount       int           `toml:"max_wait_count"`      // 最大等待数量, 小于1表示不限制

	Logger logrus.FieldLogger `toml:"-"`
}

// NewConfig 返回带默认值的配置
func NewConfig() *Config {
	return &Config{
		MinIdle:            defMinIdle,
		MaxSize:            defMaxSize,
		AcquisitionTimeout: defAcquisitionTimeout,
		IdleTimeout:        defIdleTimeout,
		SweepInterval:      defSweepInterval,
		ConnectTimeout:     defConnectTimeout,
		CreateAttempts:     defCreateAttempts,
		ValidationAttempts: defValidationAttempts,
	}
}

// Check 补全零值并校验配置, 不合法时返回 ErrInvalidConfig
func (conf *Config) Check() error {
	if conf.MinIdle < 0 {
		return fmt.Errorf("%w: MinIdle=%d 不能小于0", ErrInvalidConfig, conf.MinIdle)
	}
	if conf.MaxSize < 0 {
		return fmt.Errorf("%w: MaxSize=%d 不能小于0", ErrInvalidConfig, conf.MaxSize)
	}
	if conf.MaxSize == 0 {
		conf.MaxSize = defMaxSize
		if conf.MaxSize < conf.MinIdle {
			conf.MaxSize = conf.MinIdle
		}
	}
	if conf.MaxSize < conf.MinIdle {
		return fmt.Errorf("%w: MaxSize=%d 小于 MinIdle=%d", ErrInvalidConfig, conf.MaxSize, conf.MinIdle)
	}
	if conf.MaxIdle < 1 || conf.MaxIdle > conf.MaxSize {
		conf.MaxIdle = conf.MaxSize
	}
	if conf.MaxIdle < conf.MinIdle {
		return fmt.Errorf("%w: MaxIdle=%d 小于 MinIdle=%d", ErrInvalidConfig, conf.MaxIdle, conf.MinIdle)
	}

	for name, d := range map[string]time.Duration{
		"AcquisitionTimeout": conf.AcquisitionTimeout,
		"SweepInterval":      conf.SweepInterval,
		"ConnectTimeout":     conf.ConnectTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s=%s 不能为负数", ErrInvalidConfig, name, d)
		}
	}
	if conf.AcquisitionTimeout == 0 {
		conf.AcquisitionTimeout = defAcquisitionTimeout
	}
	if conf.SweepInterval == 0 {
		conf.SweepInterval = defSweepInterval
	}
	if conf.ConnectTimeout == 0 {
		conf.ConnectTimeout = defConnectTimeout
	}
	if conf.IdleTimeout < 1 {
		conf.IdleTimeout = 0
	}
	if conf.MaxLifetime < 1 {
		conf.MaxLifetime = 0
	}
	if conf.CreateAttempts < 1 {
		conf.CreateAttempts = defCreateAttempts
	}
	if conf.ValidationAttempts < 1 {
		conf.ValidationAttempts = defValidationAttempts
	}
	if conf.MaxWaitCount < 1 {
		conf.MaxWaitCount = 0
	}
	if conf.Logger == nil {
		conf.Logger = logrus.StandardLogger()
	}
	return nil
}

// 等待者的服务策略, 用于日志
func (conf *Config) policy() string {
	if conf.Fair {
		return "fifo"
	}
	return "lifo-barging"
}
