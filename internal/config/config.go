// Package config defines process-level configuration for a vnodedb server
// node, loaded via cobra/pflag flags with the defaults established by the
// original implementation.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Consistency is a tunable read/write consistency level.
type Consistency string

const (
	ConsistencyOne     Consistency = "one"
	ConsistencyQuorum  Consistency = "quorum"
	ConsistencyAll     Consistency = "all"
)

// Required returns how many of n replicas must respond to satisfy c.
func (c Consistency) Required(n int) int {
	switch c {
	case ConsistencyOne:
		if n == 0 {
			return 0
		}
		return 1
	case ConsistencyAll:
		return n
	default: // Quorum
		return n/2 + 1
	}
}

// Config mirrors the original node configuration surface: data/cluster
// identity, listen addresses, and every tunable named in the core spec
// (timeouts, in-flight caps, consistency levels).
type Config struct {
	DataDir     string
	ClusterName string
	NodeID      uint64
	ListenAddr  string
	FabricAddr  string
	EtcdAddr    string
	CmdInit     bool
	Engine      string // "bolt" or "mem"
	Peers       string // "id=clientAddr@fabricAddr,..."
	VnodesPerMember int

	WorkerTimer time.Duration
	Workers     int

	NumPartitions int

	MaxIncomingSyncs int
	MaxOutgoingSyncs int
	SyncTimeout      time.Duration
	SyncMsgTimeout   time.Duration
	SyncMsgInflight  int

	FabricReconnectInterval time.Duration
	FabricKeepalive         time.Duration
	FabricTimeout           time.Duration
	MaxConnections          int

	AutoSync bool

	RequestTimeout    time.Duration
	ValueVersionMax   int
	ReadConsistency   Consistency
	WriteConsistency  Consistency

	ReplicationFactor int
	WriteQuorum       int
	ReadQuorum        int

	// pendingConsistency holds raw flag values until ResolveConsistency
	// validates and converts them after parsing.
	pendingConsistency *[2]*string
}

// Default returns the configuration defaults, matching the original
// implementation's established values.
func Default() *Config {
	return &Config{
		DataDir:     "/tmp/vnodedb",
		ClusterName: "default",
		ListenAddr:  ":8080",
		FabricAddr:  ":8090",
		Engine:      "bolt",
		VnodesPerMember: 150,

		WorkerTimer: 500 * time.Millisecond,
		Workers:     4,

		NumPartitions: 64,

		MaxIncomingSyncs: 1,
		MaxOutgoingSyncs: 1,
		SyncTimeout:      30 * time.Second,
		SyncMsgTimeout:   5 * time.Second,
		SyncMsgInflight:  5,

		FabricReconnectInterval: 1 * time.Second,
		FabricKeepalive:         30 * time.Second,
		FabricTimeout:           5 * time.Second,
		MaxConnections:          1000,

		AutoSync: true,

		RequestTimeout:   5 * time.Second,
		ValueVersionMax:  32,
		ReadConsistency:  ConsistencyQuorum,
		WriteConsistency: ConsistencyQuorum,

		ReplicationFactor: 3,
		WriteQuorum:       2,
		ReadQuorum:        2,
	}
}

// BindFlags registers every tunable on fs, defaulting to cfg's current
// values, mirroring cmd/client's existing spf13/pflag-via-cobra usage.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "directory for storage engine files")
	fs.StringVar(&c.ClusterName, "cluster-name", c.ClusterName, "logical cluster name")
	fs.Uint64Var(&c.NodeID, "node-id", c.NodeID, "this node's numeric identity")
	fs.StringVar(&c.ListenAddr, "addr", c.ListenAddr, "client-facing HTTP listen address")
	fs.StringVar(&c.FabricAddr, "fabric-addr", c.FabricAddr, "inter-node fabric listen address")
	fs.StringVar(&c.EtcdAddr, "etcd-addr", c.EtcdAddr, "etcd endpoint for DHT coordination")
	fs.BoolVar(&c.CmdInit, "init", c.CmdInit, "initialize a brand new cluster")
	fs.StringVar(&c.Engine, "engine", c.Engine, "storage engine: bolt|mem")
	fs.StringVar(&c.Peers, "peers", c.Peers, "comma-separated ring members: id=clientAddr@fabricAddr")
	fs.IntVar(&c.VnodesPerMember, "vnodes-per-member", c.VnodesPerMember, "virtual nodes per ring member")

	fs.DurationVar(&c.WorkerTimer, "worker-timer", c.WorkerTimer, "periodic vnode tick interval")
	fs.IntVar(&c.Workers, "workers", c.Workers, "vnode worker pool size")
	fs.IntVar(&c.NumPartitions, "num-partitions", c.NumPartitions, "total number of vnode partitions in the cluster")

	fs.IntVar(&c.MaxIncomingSyncs, "max-incoming-syncs", c.MaxIncomingSyncs, "global incoming sync session cap")
	fs.IntVar(&c.MaxOutgoingSyncs, "max-outgoing-syncs", c.MaxOutgoingSyncs, "global outgoing sync session cap")
	fs.DurationVar(&c.SyncTimeout, "sync-timeout", c.SyncTimeout, "session-wide sync watchdog")
	fs.DurationVar(&c.SyncMsgTimeout, "sync-msg-timeout", c.SyncMsgTimeout, "per-message sync retransmit timeout")
	fs.IntVar(&c.SyncMsgInflight, "sync-msg-inflight", c.SyncMsgInflight, "max outstanding SyncSend messages per session")

	fs.DurationVar(&c.FabricReconnectInterval, "fabric-reconnect-interval", c.FabricReconnectInterval, "fabric reconnect backoff")
	fs.DurationVar(&c.FabricKeepalive, "fabric-keepalive", c.FabricKeepalive, "fabric TCP keepalive")
	fs.DurationVar(&c.FabricTimeout, "fabric-timeout", c.FabricTimeout, "fabric request timeout")
	fs.IntVar(&c.MaxConnections, "max-connections", c.MaxConnections, "max concurrent client connections")

	fs.BoolVar(&c.AutoSync, "auto-sync", c.AutoSync, "automatically start sync sessions on tick")

	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "coordinator request timeout")
	fs.IntVar(&c.ValueVersionMax, "value-version-max", c.ValueVersionMax, "max concurrent siblings per key before rejecting a write")

	var readC, writeC string
	fs.StringVar(&readC, "read-consistency", string(c.ReadConsistency), "read consistency: one|quorum|all")
	fs.StringVar(&writeC, "write-consistency", string(c.WriteConsistency), "write consistency: one|quorum|all")
	c.pendingConsistency = &[2]*string{&readC, &writeC}

	fs.IntVar(&c.ReplicationFactor, "n", c.ReplicationFactor, "replication factor (N)")
	fs.IntVar(&c.WriteQuorum, "w", c.WriteQuorum, "write quorum (W)")
	fs.IntVar(&c.ReadQuorum, "r", c.ReadQuorum, "read quorum (R)")
}

// ResolveConsistency must be called after fs.Parse to convert the raw
// --read-consistency/--write-consistency strings into Consistency values.
func (c *Config) ResolveConsistency() error {
	if c.pendingConsistency == nil {
		return nil
	}
	read, write := *c.pendingConsistency[0], *c.pendingConsistency[1]
	rc, err := parseConsistency(read)
	if err != nil {
		return fmt.Errorf("read-consistency: %w", err)
	}
	wc, err := parseConsistency(write)
	if err != nil {
		return fmt.Errorf("write-consistency: %w", err)
	}
	c.ReadConsistency = rc
	c.WriteConsistency = wc
	return nil
}

func parseConsistency(s string) (Consistency, error) {
	switch Consistency(s) {
	case ConsistencyOne, ConsistencyQuorum, ConsistencyAll:
		return Consistency(s), nil
	default:
		return "", fmt.Errorf("unrecognized consistency level %q", s)
	}
}

// Validate enforces the invariants the original implementation checks at
// startup: quorum configuration must guarantee overlap between writers and
// readers.
func (c *Config) Validate() error {
	if c.WriteQuorum+c.ReadQuorum <= c.ReplicationFactor {
		return fmt.Errorf("W(%d) + R(%d) must be > N(%d) for strong consistency",
			c.WriteQuorum, c.ReadQuorum, c.ReplicationFactor)
	}
	return nil
}
