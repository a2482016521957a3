// Package raftpersist is an optional shardmanager.Persistence backend that
// replicates the routing table through hashicorp/raft instead of a single
// KVStore, for deployments that run more than one shard manager and need a
// linearizable, leader-elected source of truth rather than a single mutex.
// It is the Go shape of the teacher's pkg/manager (Bootstrap/Join/AddVoter,
// WarrenFSM Apply/Snapshot/Restore), trimmed down to the one command the
// shard manager actually needs: replace the whole routing table.
package raftpersist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/shardmanager"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config configures a single Raft-backed persistence node.
type Config struct {
	NodeID         string
	BindAddr       string
	DataDir        string
	NumberOfShards int
}

// Persistence replicates shardmanager.RoutingTable through Raft. Writes are
// only accepted on the current leader; Read always serves the local FSM's
// state, which is safe to read on any node since it only ever reflects
// committed log entries.
type Persistence struct {
	cfg  Config
	raft *raft.Raft
	fsm  *tableFSM
}

// New creates (but does not bootstrap or join) a Raft-backed persistence
// node bound to cfg.BindAddr, mirroring the teacher's Manager construction
// step that precedes Bootstrap/Join.
func New(cfg Config) (*Persistence, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("raftpersist: create data dir: %w", err)
	}
	return &Persistence{
		cfg: cfg,
		fsm: newTableFSM(cfg.NumberOfShards),
	}, nil
}

func (p *Persistence) newRaft() (*raft.Raft, raft.ServerAddress, error) {
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(p.cfg.NodeID)
	raftCfg.HeartbeatTimeout = 500 * time.Millisecond
	raftCfg.ElectionTimeout = 500 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", p.cfg.BindAddr)
	if err != nil {
		return nil, "", fmt.Errorf("raftpersist: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(p.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, "", fmt.Errorf("raftpersist: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(p.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, "", fmt.Errorf("raftpersist: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(p.cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, "", fmt.Errorf("raftpersist: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(p.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, "", fmt.Errorf("raftpersist: create stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, p.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, "", fmt.Errorf("raftpersist: create raft: %w", err)
	}
	return r, transport.LocalAddr(), nil
}

// Bootstrap starts a brand new single-node cluster with this node as the
// only voter. Call AddVoter on the elected leader to grow the cluster.
func (p *Persistence) Bootstrap() error {
	r, localAddr, err := p.newRaft()
	if err != nil {
		return err
	}
	p.raft = r

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(p.cfg.NodeID), Address: localAddr}},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftpersist: bootstrap cluster: %w", err)
	}
	return nil
}

// Join starts Raft for this node without bootstrapping; the caller is
// expected to already be a voter added by an existing leader via AddVoter.
func (p *Persistence) Join() error {
	r, _, err := p.newRaft()
	if err != nil {
		return err
	}
	p.raft = r
	return nil
}

// AddVoter adds nodeID/address as a new voting member, callable only on the
// current leader.
func (p *Persistence) AddVoter(nodeID, address string) error {
	if !p.IsLeader() {
		return golemerr.InvalidRequest("raftpersist: not the leader, current leader is %s", p.raft.Leader())
	}
	future := p.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

// IsLeader reports whether this node currently holds Raft leadership.
func (p *Persistence) IsLeader() bool {
	return p.raft != nil && p.raft.State() == raft.Leader
}

// Shutdown stops the Raft instance.
func (p *Persistence) Shutdown() error {
	if p.raft == nil {
		return nil
	}
	return p.raft.Shutdown().Error()
}

// Read returns the FSM's current routing table. Safe to call on any node.
func (p *Persistence) Read(ctx context.Context) (shardmanager.RoutingTable, error) {
	return p.fsm.current(), nil
}

// Write replicates table through Raft. Must be called on the leader; a
// follower returns CodeInvalidRequest so the caller can retry against the
// leader instead.
func (p *Persistence) Write(ctx context.Context, table shardmanager.RoutingTable) error {
	if !p.IsLeader() {
		return golemerr.InvalidRequest("raftpersist: routing table writes must go through the leader")
	}
	data, err := json.Marshal(table)
	if err != nil {
		return golemerr.Internal(err, "encode routing table command")
	}
	future := p.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return golemerr.Internal(err, "apply routing table command")
	}
	if resp := future.Response(); resp != nil {
		if respErr, ok := resp.(error); ok && respErr != nil {
			return respErr
		}
	}
	return nil
}

// tableFSM is the raft.FSM whose Apply simply replaces the current routing
// table wholesale -- the routing table is small enough (one pod per shard)
// that there is no value in a finer-grained command log the way the
// teacher's WarrenFSM needs one for nodes/services/tasks/volumes.
type tableFSM struct {
	table shardmanager.RoutingTable
}

func newTableFSM(numberOfShards int) *tableFSM {
	return &tableFSM{table: shardmanager.NewRoutingTable(numberOfShards)}
}

func (f *tableFSM) current() shardmanager.RoutingTable { return f.table.Clone() }

func (f *tableFSM) Apply(l *raft.Log) interface{} {
	var table shardmanager.RoutingTable
	if err := json.Unmarshal(l.Data, &table); err != nil {
		return err
	}
	f.table = table
	return nil
}

func (f *tableFSM) Snapshot() (raft.FSMSnapshot, error) {
	return &tableSnapshot{table: f.table.Clone()}, nil
}

func (f *tableFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var table shardmanager.RoutingTable
	if err := json.NewDecoder(rc).Decode(&table); err != nil {
		return err
	}
	f.table = table
	return nil
}

type tableSnapshot struct {
	table shardmanager.RoutingTable
}

func (s *tableSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.table); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *tableSnapshot) Release() {}
