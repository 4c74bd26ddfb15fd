// Package metrics collects job execution statistics for the worker pool and
// request statistics for the load generator.
//
// # Basic Usage
//
//	m := metrics.New()
//	m.RecordSubmit()
//
//	start := time.Now()
//	// ... run the job ...
//	m.RecordSuccess(time.Since(start))
//
//	snap := m.Snapshot()
//	fmt.Printf("done: %d, p99: %v\n", snap.SuccessJobs, snap.P99Latency)
//
// # Prometheus
//
// *Metrics implements prometheus.Collector, so it can be registered on any
// registry and served with promhttp:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(m)
//
// # Thread Safety
//
// Counters are atomic; the latency sample window is guarded by a RWMutex.
package metrics
