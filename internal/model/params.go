package model

import (
	"errors"
	"time"
)

// DefaultThreadLimit is the number of concurrently processing events an
// execute-only run tolerates before it backs off.
const DefaultThreadLimit = 4

// ErrNoMode is returned by Validate when neither sync nor execute is requested.
var ErrNoMode = errors.New("either option --sync, --full-sync or --execute has to be used")

// SyncParameters is the run configuration of one invocation.
type SyncParameters struct {
	Sync     bool
	FullSync bool
	Module   string // module or connector name, empty = all
	Exclude  string // comma separated module names
	Force    bool   // bypass the sync lock entirely
	Execute  bool

	EventLimit  int           // 0 = unlimited
	TimeLimit   time.Duration // 0 = unlimited
	ThreadLimit int           // only enforced when Sync is false
}

// Normalize returns a copy with implied flags applied: a full sync is a sync,
// and a non-positive thread limit falls back to DefaultThreadLimit.
func (p SyncParameters) Normalize() SyncParameters {
	if p.FullSync {
		p.Sync = true
	}
	if p.ThreadLimit <= 0 {
		p.ThreadLimit = DefaultThreadLimit
	}
	if p.EventLimit < 0 {
		p.EventLimit = 0
	}
	if p.TimeLimit < 0 {
		p.TimeLimit = 0
	}
	return p
}

// Validate checks that at least one mode is selected.
func (p SyncParameters) Validate() error {
	if !p.Sync && !p.FullSync && !p.Execute {
		return ErrNoMode
	}
	return nil
}

// ExecuteOnly reports whether this run only executes queued events.
func (p SyncParameters) ExecuteOnly() bool {
	return p.Execute && !p.Sync && !p.FullSync
}

// Filter returns the module filter described by Module and Exclude.
func (p SyncParameters) Filter() ModuleFilter {
	return NewModuleFilter(p.Module, p.Exclude)
}
