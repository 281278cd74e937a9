package vnodestate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vnodedb/internal/causal"
	"vnodedb/internal/storage/memstore"
	"vnodedb/internal/vnoderr"
)

func openTriple(t *testing.T) (meta, primary, logEngine *memstore.Store) {
	t.Helper()
	dir := t.TempDir()
	var err error
	meta, err = memstore.Open(dir + "/meta")
	require.NoError(t, err)
	primary, err = memstore.Open(dir + "/primary")
	require.NoError(t, err)
	logEngine, err = memstore.Open(dir + "/log")
	require.NoError(t, err)
	return
}

func TestLoadAbsentStartsEmptyAndClearsStaleData(t *testing.T) {
	meta, primary, logEngine := openTriple(t)
	require.NoError(t, primary.Set([]byte("stale"), []byte("leftover")))

	s, err := Load(0, meta, primary, logEngine, Absent)
	require.NoError(t, err)
	assert.Equal(t, Absent, s.Status)
	assert.Empty(t, s.Clocks)

	_, ok := primary.Get([]byte("stale"))
	assert.False(t, ok, "loading as Absent must discard any leftover local data")
}

func TestSetStatusReadyThenBootstrapClearsLocalData(t *testing.T) {
	meta, primary, logEngine := openTriple(t)
	s, err := Load(0, meta, primary, logEngine, Ready)
	require.NoError(t, err)

	_, err = s.StorageSetLocal(1, []byte("k"), causal.Value("v"), true, nil, 0)
	require.NoError(t, err)
	_, ok := primary.Get([]byte("k"))
	require.True(t, ok)

	require.NoError(t, s.SetStatus(Bootstrap))
	_, ok = primary.Get([]byte("k"))
	assert.False(t, ok, "entering Bootstrap must clear previously stored data")
	assert.Empty(t, s.Clocks)
}

func TestSetStatusBootstrapRejectedWithPendingBootstrapSet(t *testing.T) {
	meta, primary, logEngine := openTriple(t)
	s, err := Load(0, meta, primary, logEngine, Ready)
	require.NoError(t, err)

	s.PendingBootstrap = true
	err = s.SetStatus(Bootstrap)
	assert.Error(t, err)
}

func TestSetStatusAbsentRejectedWithActiveSyncNodes(t *testing.T) {
	meta, primary, logEngine := openTriple(t)
	s, err := Load(0, meta, primary, logEngine, Ready)
	require.NoError(t, err)

	s.SyncNodes[causal.NodeID(7)] = true
	err = s.SetStatus(Absent)
	assert.Error(t, err)
}

func TestCleanShutdownRestoresClockExactly(t *testing.T) {
	meta, primary, logEngine := openTriple(t)
	s, err := Load(0, meta, primary, logEngine, Ready)
	require.NoError(t, err)

	_, err = s.StorageSetLocal(1, []byte("a"), causal.Value("1"), true, nil, 0)
	require.NoError(t, err)
	_, err = s.StorageSetLocal(1, []byte("b"), causal.Value("2"), true, nil, 0)
	require.NoError(t, err)
	require.NoError(t, s.Save(true))

	reloaded, err := Load(0, meta, primary, logEngine, Ready)
	require.NoError(t, err)
	assert.Equal(t, s.Clocks, reloaded.Clocks)
}

func TestDirtyShutdownReplaysLogToRebuildClock(t *testing.T) {
	meta, primary, logEngine := openTriple(t)
	s, err := Load(0, meta, primary, logEngine, Ready)
	require.NoError(t, err)

	_, err = s.StorageSetLocal(1, []byte("a"), causal.Value("1"), true, nil, 0)
	require.NoError(t, err)
	_, err = s.StorageSetLocal(1, []byte("b"), causal.Value("2"), true, nil, 0)
	require.NoError(t, err)

	// Persist a stale clock as if the process crashed right after the first
	// write landed but before the second write's clock update was saved.
	stale := causal.NewBVV()
	stale[1] = causal.BitmappedVersion{Base: 1}
	s.Clocks = stale
	require.NoError(t, s.Save(false))

	reloaded, err := Load(0, meta, primary, logEngine, Ready)
	require.NoError(t, err)
	assert.True(t, reloaded.Clocks.Contains(1, 2), "replay from the log must recover the dot the stale clock was missing")
}

func TestStorageSetLocalRejectsTooManyVersions(t *testing.T) {
	meta, primary, logEngine := openTriple(t)
	s, err := Load(0, meta, primary, logEngine, Ready)
	require.NoError(t, err)

	vv := causal.VersionVector{}
	_, err = s.StorageSetLocal(1, []byte("k"), causal.Value("v1"), true, vv, 0)
	require.NoError(t, err)
	_, err = s.StorageSetLocal(2, []byte("k"), causal.Value("v2"), true, vv, 0)
	require.NoError(t, err)

	_, err = s.StorageSetLocal(3, []byte("k"), causal.Value("v3"), true, vv, 1)
	assert.ErrorIs(t, err, vnoderr.ErrTooManyVersions)
}

func TestStorageSetRemoteMergesWithLocalAndAdvancesClock(t *testing.T) {
	meta, primary, logEngine := openTriple(t)
	s, err := Load(0, meta, primary, logEngine, Ready)
	require.NoError(t, err)

	incoming := causal.NewDCC().Add(causal.NodeID(9), causal.Version(1), causal.Value("remote"))
	require.NoError(t, s.StorageSetRemote([]byte("k"), incoming))

	got := s.StorageGet([]byte("k"))
	assert.Len(t, got.Values, 1)
	assert.True(t, s.Clocks.Contains(9, 1))
}
