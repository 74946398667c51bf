package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	Elections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Name:      "elections_total",
		Help:      "Total number of elections started by this node",
	})

	LeaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Name:      "leader_changes_total",
		Help:      "Total number of observed leader change events",
	})

	IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Name:      "is_leader",
		Help:      "1 if this node is the leader, else 0",
	})

	CurrentTerm = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Name:      "term",
		Help:      "Current term observed by this node",
	})

	CommitIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Name:      "commit_index",
		Help:      "Highest committed log index on this node",
	})

	CommitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "go_consensus",
		Name:      "commit_latency_seconds",
		Help:      "Latency from proposal to durable majority commit",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	Proposals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Name:      "proposals_total",
		Help:      "Total proposals routed, labelled by active mode and result",
	}, []string{"mode", "result"})

	ModeSwitches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Name:      "mode_switches_total",
		Help:      "Total hybrid mode transitions, labelled by target mode",
	}, []string{"to"})

	AppendRPCs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Subsystem: "raft",
		Name:      "append_entries_total",
		Help:      "AppendEntries RPCs sent, labelled by outcome",
	}, []string{"result"})

	// Membership / failure detector
	ClusterMembers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Subsystem: "membership",
		Name:      "members",
		Help:      "Known cluster members by state",
	}, []string{"state"})

	PhiSuspicion = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Subsystem: "membership",
		Name:      "phi",
		Help:      "Phi-accrual suspicion level per peer",
	}, []string{"peer"})

	ProbesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Subsystem: "membership",
		Name:      "probes_total",
		Help:      "Failure-detector probes sent, labelled by kind and outcome",
	}, []string{"kind", "result"})

	GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Subsystem: "grpc_conn",
		Name:      "dials_total",
		Help:      "Total number of new gRPC connections dialed",
	})
	GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Subsystem: "grpc_conn",
		Name:      "reuse_total",
		Help:      "Total number of gRPC connection reuses from cache",
	})
	GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Subsystem: "grpc_conn",
		Name:      "evictions_total",
		Help:      "Total number of cached gRPC connections evicted",
	})
	GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Subsystem: "grpc_conn",
		Name:      "active",
		Help:      "Number of active cached gRPC connections",
	})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(Elections)
		prometheus.MustRegister(LeaderChanges)
		prometheus.MustRegister(IsLeader)
		prometheus.MustRegister(CurrentTerm)
		prometheus.MustRegister(CommitIndex)
		prometheus.MustRegister(CommitLatency)
		prometheus.MustRegister(Proposals)
		prometheus.MustRegister(ModeSwitches)
		prometheus.MustRegister(AppendRPCs)
		prometheus.MustRegister(ClusterMembers)
		prometheus.MustRegister(PhiSuspicion)
		prometheus.MustRegister(ProbesSent)
		prometheus.MustRegister(GRPCConnDials)
		prometheus.MustRegister(GRPCConnReuse)
		prometheus.MustRegister(GRPCConnEvictions)
		prometheus.MustRegister(GRPCConnActive)
	})
}
