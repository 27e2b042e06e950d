// respool-bench 对资源池做借出-归还压测.
//
// Usage:
//
//	respool-bench [flags]
//
// 配置文件为 TOML 格式, 包含 [pool] [bench] [backend] 三段, 命令行参数优先于配置文件.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/zlyuancn/respool"
	"github.com/zlyuancn/respool/bench"
	"github.com/zlyuancn/respool/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	fs := pflag.NewFlagSet("respool-bench", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "respool-bench.toml", "配置文件路径")
	backend := fs.String("backend", "", "后端类型: stub, mysql, tcp")
	mode := fs.String("mode", "", "压测模式: connection, statement")
	workers := fs.IntP("workers", "w", 0, "worker 数量")
	duration := fs.DurationP("duration", "d", 0, "运行时长")
	iterations := fs.Int("iterations", 0, "每个 worker 的执行次数, 大于0时忽略 duration")
	maxSize := fs.Int("max-size", 0, "资源池最大资源数")
	fair := fs.Bool("fair", false, "公平模式")
	logLevel := fs.String("log-level", "info", "日志级别")
	metricsAddr := fs.String("metrics-addr", "", "prometheus 指标监听地址, 为空时不启动")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	logger.SetLevel(level)
	log := logger.WithField("app", "respool-bench")

	cfg, err := bench.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("加载配置失败")
		return 1
	}
	if fs.Changed("backend") {
		cfg.Backend.Kind = *backend
	}
	if fs.Changed("mode") {
		cfg.Bench.Mode = *mode
	}
	if fs.Changed("workers") {
		cfg.Bench.Workers = *workers
	}
	if fs.Changed("duration") {
		cfg.Bench.Duration = bench.Duration(*duration)
	}
	if fs.Changed("iterations") {
		cfg.Bench.Iterations = *iterations
	}
	if fs.Changed("max-size") {
		cfg.Pool.MaxSize = *maxSize
	}
	if fs.Changed("fair") {
		cfg.Pool.Fair = *fair
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("配置不合法")
		return 1
	}
	cfg.ApplyAutoScale(log)

	factory, err := bench.NewFactory(cfg.Backend)
	if err != nil {
		log.WithError(err).Error("创建后端失败")
		return 1
	}
	pool, err := respool.New(factory, cfg.PoolConfig(logger))
	if err != nil {
		log.WithError(err).Error("创建资源池失败")
		return 1
	}

	if *metricsAddr != "" {
		srv := serveMetrics(*metricsAddr, pool, log)
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc, err := cfg.RunConfig(log)
	if err != nil {
		log.WithError(err).Error("配置不合法")
		_ = pool.Close()
		return 1
	}
	log.WithFields(logrus.Fields{
		"backend":  cfg.Backend.Kind,
		"mode":     cfg.Bench.Mode,
		"workers":  rc.Workers,
		"max_size": pool.Config().MaxSize,
	}).Info("开始压测")
	res, runErr := bench.Run(ctx, pool, rc)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := pool.Shutdown(sctx); err != nil {
		log.WithError(err).Warn("关闭资源池失败")
	}

	if runErr != nil {
		log.WithError(runErr).Error("压测失败")
		return 1
	}
	log.WithFields(res.Fields()).Info("压测结束")
	printResult(res, pool.Stats())
	return 0
}

func serveMetrics(addr string, pool *respool.Pool, log logrus.FieldLogger) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics.NewCollector("respool", "bench", pool),
		collectors.NewGoCollector(),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("指标服务异常退出")
		}
	}()
	log.WithField("addr", addr).Info("指标服务已启动")
	return srv
}

func printResult(res *bench.Result, s respool.Stats) {
	fmt.Printf("ops          %d\n", res.Ops)
	fmt.Printf("ops/s        %.1f\n", res.Throughput)
	fmt.Printf("elapsed      %s\n", res.Elapsed)
	fmt.Printf("latency      mean=%s p50=%s p99=%s max=%s\n", res.Mean, res.P50, res.P99, res.Max)
	fmt.Printf("failures     timeout=%d borrow=%d work=%d\n", res.Timeouts, res.BorrowErrors, res.WorkErrors)
	fmt.Printf("pool         created=%d destroyed=%d waits=%d wait=%s\n", s.Created, s.Destroyed, s.Waits, s.WaitDuration)
}
