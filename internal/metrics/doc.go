/*
Package metrics provides Prometheus-based metrics collection for the
directory service and storage node daemons.

# Overview

The collector tracks per-operation counters, latency and size histograms,
replication throughput, ring membership, and error classification. It
exports both a Prometheus registry (mounted by pkg/api's /metrics handler,
or served standalone via Collector.Start) and an in-memory summary for the
/debug/* endpoints.

# Recording Operations

	start := time.Now()
	data, err := performCreate(owner, filename)
	collector.RecordOperation("create", time.Since(start), int64(len(data)), err == nil)

# Replication and Ring Metrics

	collector.RecordReplication("update", err == nil)
	collector.UpdateRingNodesOnline(len(ring.OnlineNodes()))

# Prometheus Series

Counters:
  - textfs_operations_total{operation,status}
  - textfs_replication_jobs_total{op,status}
  - textfs_errors_total{operation,type}

Histograms:
  - textfs_operation_duration_seconds{operation}
  - textfs_operation_size_bytes{operation}

Gauges:
  - textfs_ring_nodes_online
  - textfs_active_connections

# See Also

  - pkg/health: component health tracking
  - internal/circuit: circuit breaker for DS->SN control RPCs
  - pkg/dfserrors: structured error handling
*/
package metrics
