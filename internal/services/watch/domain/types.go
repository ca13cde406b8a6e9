package domain

import (
	"pkgsearch/internal/adapters/registry"
)

// Change is the feed event shape; aliased from the registry adapter so the
// service and adapter never drift
type Change = registry.Change

// ChangeRev aliases the adapter revision entry
type ChangeRev = registry.ChangeRev

// SyntheticSeq marks a change injected by the refresh scanner.
// It must never reach the checkpoint
const SyntheticSeq int64 = -1

// StageWatch is the pipeline stage persisted while the watcher runs
const StageWatch = "watch"

// Job is the unit of work: a change plus retry metadata
type Job struct {
	Change Change

	// Retry counts failed attempts so far
	Retry int

	// IgnoreSeq marks a job whose success must not advance the checkpoint
	IgnoreSeq bool
}

// State is the persisted pipeline state; Seq is the exclusive low-water mark
// of durably applied changes
type State struct {
	Stage string
	Seq   int64
}

// StatePatch is a partial state update; nil fields are left untouched
type StatePatch struct {
	Stage *string
	Seq   *int64
}

// Status is the progress snapshot served by the ops surface
type Status struct {
	RunID        string `json:"run_id"`
	Stage        string `json:"stage"`
	Seq          int64  `json:"seq"`
	TotalSeq     int64  `json:"total_seq"`
	QueueLen     int    `json:"queue_len"`
	QueueRunning int    `json:"queue_running"`
	Parked       int    `json:"parked"`
	Paused       bool   `json:"paused"`
}
