package shardmanager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/log"
	"github.com/golem-go/golem/pkg/metrics"
	"github.com/rs/zerolog"
)

// ShardManagement owns the in-memory routing table, persists it on every
// change, and runs the periodic health-check sweep that evicts dead pods.
// It is the Go shape of the original's ShardManagement actor: a
// mutex-guarded snapshot instead of a message-passing actor, since Go's
// idiom for this kind of shared mutable state is a plain mutex rather than
// a dedicated goroutine mailbox.
type ShardManagement struct {
	persistence       Persistence
	healthCheck       HealthCheck
	rebalanceThreshold float64

	logger zerolog.Logger

	mu    sync.RWMutex
	table RoutingTable

	stopCh chan struct{}
}

// New loads the routing table from persistence and returns a ready
// ShardManagement. Rebalance takes a shard away from a pod only while that
// pod holds more than target + target*rebalanceThreshold shards, where
// target is the even share per pod.
func New(ctx context.Context, persistence Persistence, healthCheck HealthCheck, rebalanceThreshold float64) (*ShardManagement, error) {
	table, err := persistence.Read(ctx)
	if err != nil {
		return nil, err
	}
	return &ShardManagement{
		persistence:        persistence,
		healthCheck:        healthCheck,
		rebalanceThreshold: rebalanceThreshold,
		logger:             log.WithComponent("shardmanager"),
		table:              table,
		stopCh:             make(chan struct{}),
	}, nil
}

// CurrentSnapshot returns a copy of the routing table safe for the caller
// to read without holding any lock.
func (m *ShardManagement) CurrentSnapshot() RoutingTable {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.table.Clone()
}

// RegisterPod adds pod to the cluster and immediately rebalances shards
// onto it if the cluster is imbalanced.
func (m *ShardManagement) RegisterPod(ctx context.Context, pod Pod) error {
	m.mu.Lock()
	for _, existing := range m.table.Pods() {
		if existing == pod {
			m.mu.Unlock()
			return nil
		}
	}
	m.mu.Unlock()

	m.logger.Info().Str("pod", pod.String()).Msg("registering pod")
	return m.Rebalance(ctx, pod)
}

// UnregisterPod removes pod, reassigning its shards in ascending shard order
// round-robin across the remaining pods (or leaving them unassigned if pod
// was the last one).
func (m *ShardManagement) UnregisterPod(ctx context.Context, pod Pod) error {
	m.mu.Lock()
	var orphaned []uint64
	for shard, assigned := range m.table.Assignments {
		if assigned == pod {
			orphaned = append(orphaned, uint64(shard))
			delete(m.table.Assignments, shard)
		}
	}
	remaining := m.table.Pods()
	table := m.table
	m.mu.Unlock()

	if len(orphaned) == 0 {
		return nil
	}
	sort.Slice(orphaned, func(i, j int) bool { return orphaned[i] < orphaned[j] })
	m.logger.Warn().Str("pod", pod.String()).Int("orphaned_shards", len(orphaned)).Msg("unregistering pod")

	if len(remaining) == 0 {
		return m.persist(ctx, table)
	}
	return m.reassign(ctx, orphaned, remaining)
}

// Rebalance brings newPod into the assignment set, the Go counterpart of the
// original's rebalancing module: walking shard ids in ascending order, it
// moves each shard whose pod holds more than the surplus floor (see New) to
// newPod until newPod reaches its target share, then hands unassigned shards
// to newPod, stopping once it reaches that share.
func (m *ShardManagement) Rebalance(ctx context.Context, newPod Pod) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RebalanceDuration)

	m.mu.Lock()
	pods := append(m.table.Pods(), newPod)
	target := m.table.NumberOfShards / len(pods)
	if target == 0 {
		target = 1
	}

	counts := make(map[Pod]int)
	for _, assigned := range m.table.Assignments {
		counts[assigned]++
	}

	// Shards only move off a pod once it's overloaded by more than
	// rebalanceThreshold of the target share, so a marginally uneven
	// cluster doesn't thrash shards back and forth on every registration.
	surplusFloor := target + int(float64(target)*m.rebalanceThreshold)

	// §4.6 step 3 requires shards to move "one-at-a-time in deterministic
	// order (ascending shard id from heaviest donor)"; m.table.Assignments
	// is a map, whose iteration order is randomized per run, so the
	// candidate shard ids are collected and sorted ascending before the
	// donor loop below touches them.
	candidates := make([]golem.ShardId, 0, len(m.table.Assignments))
	for shard := range m.table.Assignments {
		candidates = append(candidates, shard)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	var moved []uint64
	for _, shard := range candidates {
		assigned := m.table.Assignments[shard]
		if assigned == newPod {
			continue
		}
		if counts[newPod] >= target {
			break
		}
		if counts[assigned] > surplusFloor {
			m.table.Assignments[shard] = newPod
			counts[assigned]--
			counts[newPod]++
			moved = append(moved, uint64(shard))
		}
	}
	for shard := golem.ShardId(0); int(shard) < m.table.NumberOfShards; shard++ {
		if _, assigned := m.table.Assignments[shard]; !assigned {
			m.table.Assignments[shard] = newPod
			counts[newPod]++
			moved = append(moved, uint64(shard))
			if counts[newPod] >= target {
				break
			}
		}
	}

	table := m.table.Clone()
	m.mu.Unlock()

	metrics.RebalanceOperationsTotal.Add(float64(len(moved)))
	metrics.ShardsTotal.Set(float64(table.NumberOfShards))
	metrics.ShardsUnassigned.Set(float64(table.UnassignedCount()))
	m.logger.Info().Str("pod", newPod.String()).Int("shards_moved", len(moved)).Msg("rebalanced")

	return m.persist(ctx, table)
}

func (m *ShardManagement) reassign(ctx context.Context, shards []uint64, pods []Pod) error {
	m.mu.Lock()
	for i, shard := range shards {
		pod := pods[i%len(pods)]
		m.table.Assignments[golem.ShardId(shard)] = pod
	}
	table := m.table.Clone()
	m.mu.Unlock()
	return m.persist(ctx, table)
}

func (m *ShardManagement) persist(ctx context.Context, table RoutingTable) error {
	if err := m.persistence.Write(ctx, table); err != nil {
		return err
	}
	m.mu.Lock()
	m.table = table
	m.mu.Unlock()
	return nil
}

// StartHealthCheck begins the periodic sweep that evicts pods failing
// their gRPC health probe, the Go counterpart of the original's
// start_health_check/health_check loop.
func (m *ShardManagement) StartHealthCheck(delay time.Duration) {
	go func() {
		ticker := time.NewTicker(delay)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweepHealth()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// StopHealthCheck halts the sweep started by StartHealthCheck.
func (m *ShardManagement) StopHealthCheck() {
	close(m.stopCh)
}

func (m *ShardManagement) sweepHealth() {
	ctx := context.Background()
	table := m.CurrentSnapshot()
	pods := table.Pods()
	if len(pods) == 0 {
		return
	}

	unhealthy := UnhealthyPods(ctx, m.healthCheck, pods)
	if len(unhealthy) == 0 {
		m.logger.Debug().Msg("all registered pods are healthy")
		return
	}

	for _, pod := range unhealthy {
		metrics.HealthCheckFailuresTotal.WithLabelValues(pod.String()).Inc()
		m.logger.Warn().Str("pod", pod.String()).Msg("pod failed health check, unregistering")
		if err := m.UnregisterPod(ctx, pod); err != nil {
			m.logger.Error().Err(err).Str("pod", pod.String()).Msg("failed to unregister unhealthy pod")
		}
	}
}
