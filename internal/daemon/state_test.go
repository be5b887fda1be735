package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The daemon's own writes never clobber fields the dashboard owns:
// paused/stopped/directive and the idea-source-facing strings.
func TestSaveState_PreservesDashboardOwnedFieldsAcrossDaemonWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	initial := State{
		StartedAt: time.Now(),
		Paused:    true,
		Stopped:   false,
		Directive: "explore mean reversion",
		GuideText: "focus on overnight sessions",
	}
	require.NoError(t, saveState(path, initial))

	// Simulate the daemon's own cycle bookkeeping write: it only knows
	// about its own counters, not the dashboard's fields.
	daemonWrite := State{
		LastCycleAt: time.Now(),
		TotalCycles: 5,
	}
	require.NoError(t, saveState(path, daemonWrite))

	onDisk, ok := loadState(path)
	require.True(t, ok)
	assert.True(t, onDisk.Paused, "dashboard-set paused flag must survive a daemon write")
	assert.Equal(t, "explore mean reversion", onDisk.Directive)
	assert.Equal(t, "focus on overnight sessions", onDisk.GuideText)
	assert.Equal(t, int64(5), onDisk.TotalCycles)
}

func TestLoadState_MissingFileIsColdStartNotError(t *testing.T) {
	dir := t.TempDir()
	s, ok := loadState(filepath.Join(dir, "missing.json"))
	assert.False(t, ok)
	assert.Zero(t, s)
}

func TestApplyControlFlags_PicksUpExternallyWrittenStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, saveState(path, State{Stopped: true}))

	s := State{TotalCycles: 3}
	applyControlFlags(&s, path)
	assert.True(t, s.Stopped)
	assert.Equal(t, int64(3), s.TotalCycles) // daemon-owned field untouched
}

// The start/stop paths are the only writers allowed to change
// paused/stopped: an explicit start clears a stale dashboard stop, an
// explicit stop records stopped=true, and the dashboard-owned
// directive fields survive either way.
func TestSaveStateForcingFlags_OverridesControlFlagsKeepsDirective(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, saveState(path, State{
		Paused:    true,
		Stopped:   true,
		Directive: "explore mean reversion",
	}))

	require.NoError(t, saveStateForcingFlags(path, State{TotalCycles: 2}, false, false))

	onDisk, ok := loadState(path)
	require.True(t, ok)
	assert.False(t, onDisk.Paused)
	assert.False(t, onDisk.Stopped)
	assert.Equal(t, "explore mean reversion", onDisk.Directive)
	assert.Equal(t, int64(2), onDisk.TotalCycles)

	require.NoError(t, saveStateForcingFlags(path, onDisk, false, true))
	onDisk, ok = loadState(path)
	require.True(t, ok)
	assert.True(t, onDisk.Stopped)
}

func TestSaveState_WritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, saveState(path, State{TotalCycles: 1}))

	// No leftover .tmp file after a successful write.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
