// Package metrics is an optional Prometheus facade for a TreeIndex,
// grounded in pkg/cowbtree's CowBTreeStats counters and modeled on
// ssargent-freyjadb's pkg/api.Metrics construction style. Unlike that
// package's promauto.With(nil) (global registry) pattern, Collector
// registers against a caller-supplied *prometheus.Registry so that more
// than one TreeIndex in the same process (as in a test suite) can each
// have their own Collector without a duplicate-registration panic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Source is implemented by treeindex.TreeIndex[K,V] for any K, V; it is
// defined here instead of imported to avoid a generic-instantiation
// dependency cycle between the tree and its metrics facade.
type Source interface {
	Len() int
	Depth() int
}

// Collector exposes tree-wide gauges and counters that Insert/Remove/split
// events feed as they occur. Callers record events explicitly (the tree
// itself takes no dependency on this package) via RecordInsert,
// RecordRemove, RecordSplit, RecordCoalesce, and RecordRetry.
type Collector struct {
	keys     prometheus.Gauge
	depth    prometheus.Gauge
	inserts  prometheus.Counter
	removes  prometheus.Counter
	splits   prometheus.Counter
	coalesce prometheus.Counter
	retries  prometheus.Counter
	reclaims prometheus.Counter
}

// NewCollector builds and registers a Collector against reg. namespace
// distinguishes multiple trees monitored in the same process (for example
// "orders" and "sessions").
func NewCollector(reg *prometheus.Registry, namespace string) *Collector {
	c := &Collector{
		keys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "treeindex_keys", Help: "Live key count.",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "treeindex_depth", Help: "Tree height.",
		}),
		inserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "treeindex_inserts_total", Help: "Successful inserts.",
		}),
		removes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "treeindex_removes_total", Help: "Successful removes.",
		}),
		splits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "treeindex_splits_total", Help: "Leaf and node splits.",
		}),
		coalesce: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "treeindex_coalesce_total", Help: "Emptied-child coalesce events.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "treeindex_retries_total", Help: "CAS races that forced a retry from the root.",
		}),
		reclaims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "treeindex_reclaims_total", Help: "Objects released by the epoch reclaimer.",
		}),
	}
	reg.MustRegister(c.keys, c.depth, c.inserts, c.removes, c.splits, c.coalesce, c.retries, c.reclaims)
	return c
}

// Sync refreshes the gauge values from a live tree snapshot.
func (c *Collector) Sync(t Source) {
	c.keys.Set(float64(t.Len()))
	c.depth.Set(float64(t.Depth()))
}

func (c *Collector) RecordInsert()   { c.inserts.Inc() }
func (c *Collector) RecordRemove()   { c.removes.Inc() }
func (c *Collector) RecordSplit()    { c.splits.Inc() }
func (c *Collector) RecordCoalesce() { c.coalesce.Inc() }
func (c *Collector) RecordRetry()    { c.retries.Inc() }
func (c *Collector) RecordReclaim(n int) {
	if n > 0 {
		c.reclaims.Add(float64(n))
	}
}
