// Package vnodestate implements the per-partition persistent state a vnode
// owns: its lifecycle status, causal clock, write-ahead log of dots, and the
// primary storage handle, plus the load/save recipe that lets a vnode
// recover correctly from an unclean shutdown.
package vnodestate

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ugorji/go/codec"

	"vnodedb/internal/causal"
	"vnodedb/internal/storage"
	"vnodedb/internal/vnoderr"
	"vnodedb/internal/vnodelog"
)

// Status is a vnode's position in the lifecycle state machine.
type Status int

const (
	// Absent: no actual data is present locally for this partition.
	Absent Status = iota
	// Bootstrap: streaming a full copy from another replica; can only
	// accept replicated writes, never coordinate.
	Bootstrap
	// Ready: steady state, may coordinate client reads and writes.
	Ready
	// Zombie: a former replica retaining data briefly to answer racing
	// queries until ZombieTimeout elapses or it is recommissioned.
	Zombie
)

func (s Status) String() string {
	switch s {
	case Absent:
		return "Absent"
	case Bootstrap:
		return "Bootstrap"
	case Ready:
		return "Ready"
	case Zombie:
		return "Zombie"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ZombieTimeout is how long a Zombie vnode retains data with no in-flight
// requests or syncs before transitioning to Absent.
const ZombieTimeout = 30 * time.Second

// SavedVNodeState is the durable metadata recovery reads back on restart.
type SavedVNodeState struct {
	Clocks        causal.BitmappedVersionVector
	CleanShutdown bool
}

// State is one partition's persistent state: status, clock, log, and the
// primary storage handle. It is owned exclusively by a single vnode
// Controller — nothing here is safe for concurrent mutation from two
// goroutines, matching the single-threaded-actor model THE CORE assumes.
type State struct {
	Num              uint16
	Status           Status
	LastStatusChange time.Time
	Clocks           causal.BitmappedVersionVector
	Log              *vnodelog.Log
	Storage          storage.Engine

	// PendingBootstrap records that a bootstrap could not start because the
	// global incoming-sync quota was exhausted; the controller retries it
	// every tick.
	PendingBootstrap bool
	// SyncNodes is the set of peers this vnode currently pulls from through
	// a SyncReceiver session, so a second one is never started
	// concurrently for the same peer.
	SyncNodes map[causal.NodeID]bool

	meta storage.Engine
}

func metaKey(num uint16) []byte {
	return []byte(strconv.FormatUint(uint64(num), 10))
}

// Load recovers (or freshly creates) the state for vnode num. If status is
// Absent, or no saved metadata exists, the vnode starts empty. Otherwise the
// saved clock is restored as-is when the prior shutdown was clean; when it
// was not, the log is replayed from each node's recorded base+1 upward to
// reconstruct the bitmap for writes that landed but were never confirmed
// shut down cleanly.
func Load(num uint16, meta, primary, logEngine storage.Engine, status Status) (*State, error) {
	if status == Absent {
		return newEmpty(num, meta, primary, logEngine, status)
	}

	raw, ok := meta.Get(metaKey(num))
	if !ok {
		return newEmpty(num, meta, primary, logEngine, status)
	}

	var saved SavedVNodeState
	dec := codec.NewDecoderBytes(raw, causal.WireHandle())
	if err := dec.Decode(&saved); err != nil {
		return nil, fmt.Errorf("vnodestate: decode saved state for vnode %d: %w", num, err)
	}

	l := vnodelog.Open(logEngine)
	clocks := saved.Clocks
	if clocks == nil {
		clocks = causal.NewBVV()
	}

	if !saved.CleanShutdown {
		for n, bv := range clocks {
			from := bv.Base + 1
			l.IterFrom(n, from, func(v causal.Version, _ []byte) bool {
				bv = bv.Add(v)
				return true
			})
			clocks[n] = bv
		}
	}

	return &State{
		Num:              num,
		Status:           status,
		LastStatusChange: time.Now(),
		Clocks:           clocks,
		Log:              l,
		Storage:          primary,
		SyncNodes:        make(map[causal.NodeID]bool),
		meta:             meta,
	}, nil
}

func newEmpty(num uint16, meta, primary, logEngine storage.Engine, status Status) (*State, error) {
	meta.Del(metaKey(num))
	if err := primary.Clear(); err != nil {
		return nil, fmt.Errorf("vnodestate: clear primary storage for vnode %d: %w", num, err)
	}
	if err := logEngine.Clear(); err != nil {
		return nil, fmt.Errorf("vnodestate: clear log storage for vnode %d: %w", num, err)
	}
	return &State{
		Num:              num,
		Status:           status,
		LastStatusChange: time.Now(),
		Clocks:           causal.NewBVV(),
		Log:              vnodelog.Open(logEngine),
		Storage:          primary,
		SyncNodes:        make(map[causal.NodeID]bool),
		meta:             meta,
	}, nil
}

// Save persists the clock and clean-shutdown flag. Called on every status
// change (with shutdown=false) and once more, with shutdown=true, as the
// very last act before the process exits cleanly.
func (s *State) Save(cleanShutdown bool) error {
	saved := SavedVNodeState{Clocks: s.Clocks, CleanShutdown: cleanShutdown}
	var raw []byte
	enc := codec.NewEncoderBytes(&raw, causal.WireHandle())
	if err := enc.Encode(saved); err != nil {
		return fmt.Errorf("vnodestate: encode saved state for vnode %d: %w", s.Num, err)
	}
	return s.meta.Set(metaKey(s.Num), raw)
}

// Clear discards all local data: clock, log, and primary storage. Entered on
// transition into Bootstrap or Absent.
func (s *State) Clear() error {
	s.Clocks = causal.NewBVV()
	if err := s.Log.Clear(); err != nil {
		return err
	}
	return s.Storage.Clear()
}

// SetStatus drives the lifecycle transition to new, clearing local data when
// entering Bootstrap or Absent, and persisting the change. It is a no-op if
// new equals the current status.
func (s *State) SetStatus(new Status) error {
	if new == s.Status {
		return nil
	}
	switch new {
	case Bootstrap:
		if s.PendingBootstrap {
			return fmt.Errorf("vnodestate: vnode %d cannot enter Bootstrap with a pending bootstrap set", s.Num)
		}
		if len(s.SyncNodes) != 0 {
			return fmt.Errorf("vnodestate: vnode %d cannot enter Bootstrap with sync_nodes non-empty", s.Num)
		}
		if err := s.Clear(); err != nil {
			return err
		}
	case Absent:
		if len(s.SyncNodes) != 0 {
			return fmt.Errorf("vnodestate: vnode %d cannot enter Absent with sync_nodes non-empty", s.Num)
		}
		if err := s.Clear(); err != nil {
			return err
		}
	case Ready, Zombie:
		// no data change
	}

	s.LastStatusChange = time.Now()
	s.PendingBootstrap = false
	s.Status = new
	return s.Save(false)
}

// StorageGet reads the DCC for key, filling its context with the clock's
// contiguous bases so a stripped on-disk context compares correctly.
func (s *State) StorageGet(key []byte) causal.DottedCausalContainer {
	raw, ok := s.Storage.Get(key)
	var dcc causal.DottedCausalContainer
	if ok {
		var err error
		dcc, err = causal.DecodeDCC(raw)
		if err != nil {
			dcc = causal.NewDCC()
		}
	} else {
		dcc = causal.NewDCC()
	}
	return dcc.Fill(s.Clocks)
}

// StorageSetLocal performs a coordinated local write: read-discard-add-strip,
// append the new dot to the log, and persist the result (or delete the key
// if the container became empty — i.e. this was a delete of the only
// sibling). self is the local node id issuing the dot. Returns
// vnoderr.ErrTooManyVersions, unmodified, if accepting the write would
// exceed valueVersionMax concurrent siblings.
func (s *State) StorageSetLocal(self causal.NodeID, key []byte, value causal.Value, hasValue bool, vv causal.VersionVector, valueVersionMax int) (causal.DottedCausalContainer, error) {
	dcc := s.StorageGet(key)
	dcc = dcc.Discard(vv)

	if valueVersionMax > 0 && len(dcc.Values) >= valueVersionMax {
		return causal.DottedCausalContainer{}, vnoderr.ErrTooManyVersions
	}

	dot := s.Clocks.Event(self)
	if hasValue {
		dcc = dcc.Add(self, dot, value)
	}
	dcc = dcc.Strip(s.Clocks)

	if err := s.persist(key, dcc); err != nil {
		return causal.DottedCausalContainer{}, err
	}

	if err := s.Log.Log(self, dot, key); err != nil {
		return causal.DottedCausalContainer{}, err
	}

	return dcc.Fill(s.Clocks), nil
}

// StorageSetRemote applies a replicated container received from a peer
// (coordinated fan-out, or a sync/bootstrap transfer): the clock first
// absorbs every dot the incoming container carries (so Sync/Strip compare
// correctly against the now-current clock), then the container is merged
// with whatever is stored locally and re-persisted.
func (s *State) StorageSetRemote(key []byte, newDCC causal.DottedCausalContainer) error {
	oldDCC := s.StorageGet(key)
	for dot := range newDCC.Values {
		s.Clocks.Add(dot.Node, dot.Version)
	}

	merged := newDCC.Sync(oldDCC)
	merged = merged.Strip(s.Clocks)

	if err := s.persist(key, merged); err != nil {
		return err
	}

	for dot := range merged.Values {
		if err := s.Log.Log(dot.Node, dot.Version, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *State) persist(key []byte, dcc causal.DottedCausalContainer) error {
	if dcc.IsEmpty() {
		return s.Storage.Del(key)
	}
	raw, err := causal.EncodeDCC(dcc)
	if err != nil {
		return fmt.Errorf("vnodestate: encode dcc: %w", err)
	}
	return s.Storage.Set(key, raw)
}
