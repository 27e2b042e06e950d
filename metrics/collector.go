// Package metrics 把资源池的 Stats 导出为 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zlyuancn/respool"
)

// StatsSource 能提供资源池快照的对象, *respool.Pool 实现了它
type StatsSource interface {
	Stats() respool.Stats
}

type metric struct {
	desc  *prometheus.Desc
	typ   prometheus.ValueType
	value func(s respool.Stats) float64
}

// Collector 每次采集时读取一次 Stats, 所有指标来自同一个快照
type Collector struct {
	src     StatsSource
	metrics []metric
}

// NewCollector 创建采集器, pool 作为常量标签区分同一进程中的多个资源池
func NewCollector(namespace, pool string, src StatsSource) *Collector {
	labels := prometheus.Labels{"pool": pool}
	gauge := func(name, help string, f func(s respool.Stats) float64) metric {
		return metric{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, nil, labels),
			typ:   prometheus.GaugeValue,
			value: f,
		}
	}
	counter := func(name, help string, f func(s respool.Stats) float64) metric {
		m := gauge(name, help, f)
		m.typ = prometheus.CounterValue
		return m
	}

	return &Collector{
		src: src,
		metrics: []metric{
			gauge("resources_max", "Maximum number of resources in the pool",
				func(s respool.Stats) float64 { return float64(s.MaxSize) }),
			gauge("resources_min_idle", "Configured minimum number of idle resources",
				func(s respool.Stats) float64 { return float64(s.MinIdle) }),
			gauge("resources_total", "Current number of live resources",
				func(s respool.Stats) float64 { return float64(s.Total) }),
			gauge("resources_borrowed", "Number of resources currently borrowed",
				func(s respool.Stats) float64 { return float64(s.Borrowed) }),
			gauge("resources_idle", "Number of idle resources",
				func(s respool.Stats) float64 { return float64(s.Idle) }),
			gauge("resources_pending", "Number of resources being created",
				func(s respool.Stats) float64 { return float64(s.Pending) }),
			gauge("waiters", "Number of callers waiting for a resource",
				func(s respool.Stats) float64 { return float64(s.Waiting) }),
			counter("created_total", "Total number of resources created",
				func(s respool.Stats) float64 { return float64(s.Created) }),
			counter("destroyed_total", "Total number of resources destroyed",
				func(s respool.Stats) float64 { return float64(s.Destroyed) }),
			counter("evicted_total", "Total number of idle resources evicted by the sweeper",
				func(s respool.Stats) float64 { return float64(s.Evicted) }),
			counter("borrow_total", "Total number of successful borrows",
				func(s respool.Stats) float64 { return float64(s.Borrows) }),
			counter("wait_total", "Total number of borrows that had to wait",
				func(s respool.Stats) float64 { return float64(s.Waits) }),
			counter("timeout_total", "Total number of borrows that timed out",
				func(s respool.Stats) float64 { return float64(s.Timeouts) }),
			counter("create_failures_total", "Total number of failed creation attempts",
				func(s respool.Stats) float64 { return float64(s.CreateFailures) }),
			counter("validation_failures_total", "Total number of failed validations",
				func(s respool.Stats) float64 { return float64(s.ValidationFailures) }),
			counter("wait_seconds_total", "Total time spent waiting for a resource",
				func(s respool.Stats) float64 { return s.WaitDuration.Seconds() }),
		},
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.typ, m.value(s))
	}
}
