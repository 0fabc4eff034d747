package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the node's prometheus collectors.
type Metrics struct {
	WritesTotal       prometheus.Counter
	WriteBytesTotal   prometheus.Counter
	WriteFailures     prometheus.Counter
	ReplicationsTotal prometheus.Counter
	ReplicationDups   prometheus.Counter
	RepairCycles      prometheus.Counter
	RepairRanges      prometheus.Counter
	CompactionRuns    prometheus.Counter
	PartitionRotations prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blobkeeper_writes_total",
			Help: "Blobs appended by the disk writers.",
		}),
		WriteBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blobkeeper_write_bytes_total",
			Help: "Payload bytes appended by the disk writers.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blobkeeper_write_failures_total",
			Help: "Writes dropped after a storage failure.",
		}),
		ReplicationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blobkeeper_replications_total",
			Help: "Replicated blobs applied by the replication writer.",
		}),
		ReplicationDups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blobkeeper_replication_duplicates_total",
			Help: "Replicated blobs skipped as already present.",
		}),
		RepairCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blobkeeper_repair_cycles_total",
			Help: "Completed per-disk repair cycles.",
		}),
		RepairRanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blobkeeper_repair_ranges_total",
			Help: "Divergent ranges fetched from the master.",
		}),
		CompactionRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blobkeeper_compaction_runs_total",
			Help: "Partitions rewritten by compaction.",
		}),
		PartitionRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blobkeeper_partition_rotations_total",
			Help: "Active partition rotations.",
		}),
	}

	reg.MustRegister(
		m.WritesTotal,
		m.WriteBytesTotal,
		m.WriteFailures,
		m.ReplicationsTotal,
		m.ReplicationDups,
		m.RepairCycles,
		m.RepairRanges,
		m.CompactionRuns,
		m.PartitionRotations,
	)
	return m
}
