package daemon

import (
	"encoding/json"
	"os"
	"time"

	"github.com/bostonrobbie/marcus/internal/atomicio"
)

// State is the daemon state file. paused/stopped/directive (and the
// four dashboard-only fields) are externally writable -- the daemon
// must never clobber them with its own routine writes.
type State struct {
	LastCycleAt     time.Time `json:"last_cycle_at"`
	LastDashboardAt time.Time `json:"last_dashboard_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	TotalCycles     int64     `json:"total_cycles"`
	TotalErrors     int64     `json:"total_errors"`
	StartedAt       time.Time `json:"started_at"`

	Paused  bool `json:"paused"`
	Stopped bool `json:"stopped"`

	Directive string `json:"directive,omitempty"`

	// Dashboard-owned; consumed by the idea source, never written by
	// the daemon.
	GuideText       string `json:"guide_text,omitempty"`
	ExplorationMode string `json:"exploration_mode,omitempty"`
	ActiveObjective string `json:"active_objective,omitempty"`
	ActivePresetID  string `json:"active_preset_id,omitempty"`
}

// loadState reads the state file. A missing or unreadable file is
// treated as a cold start, returning the zero State and no error --
// the caller logs the degradation.
func loadState(path string) (State, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return State{}, false
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return State{}, false
	}
	return s, true
}

// saveState merges the daemon-owned fields of next into whatever is
// currently on disk, so a concurrent dashboard write to paused/
// stopped/directive/guide_text/etc. is preserved, then writes the
// merged result atomically. This is the read-modify-write step spec
// sec 5 requires of every daemon-side state write.
func saveState(path string, next State) error {
	onDisk, ok := loadState(path)
	if ok {
		// Daemon never owns these; always keep whatever is on disk.
		next.Paused = onDisk.Paused
		next.Stopped = onDisk.Stopped
		next.Directive = onDisk.Directive
		next.GuideText = onDisk.GuideText
		next.ExplorationMode = onDisk.ExplorationMode
		next.ActiveObjective = onDisk.ActiveObjective
		next.ActivePresetID = onDisk.ActivePresetID
	}
	b, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	return atomicio.WriteFile(path, b, 0o644)
}

// saveStateForcingFlags is saveState except paused/stopped are
// force-written rather than preserved from disk. Only the start and
// stop paths use it: an explicit start clears both flags, an explicit
// stop (signal or dashboard) records stopped=true so the state file
// reflects that the daemon is down.
func saveStateForcingFlags(path string, next State, paused, stopped bool) error {
	onDisk, ok := loadState(path)
	if ok {
		next.Directive = onDisk.Directive
		next.GuideText = onDisk.GuideText
		next.ExplorationMode = onDisk.ExplorationMode
		next.ActiveObjective = onDisk.ActiveObjective
		next.ActivePresetID = onDisk.ActivePresetID
	}
	next.Paused = paused
	next.Stopped = stopped
	b, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	return atomicio.WriteFile(path, b, 0o644)
}

// applyControlFlags overlays externally-writable control flags from
// disk onto a freshly-read state, used at the top of each loop
// iteration to pick up a dashboard-issued pause/stop/directive before
// deciding what to do this tick.
func applyControlFlags(s *State, path string) {
	onDisk, ok := loadState(path)
	if !ok {
		return
	}
	s.Paused = onDisk.Paused
	s.Stopped = onDisk.Stopped
	s.Directive = onDisk.Directive
	s.GuideText = onDisk.GuideText
	s.ExplorationMode = onDisk.ExplorationMode
	s.ActiveObjective = onDisk.ActiveObjective
	s.ActivePresetID = onDisk.ActivePresetID
}
