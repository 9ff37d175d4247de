package worker

import commonpb "go.temporal.io/api/common/v1"

// Run is the worker-side state of one workflow run. Handlers may keep
// their own data in State; it lives as long as the run stays cached.
type Run struct {
	WorkflowID   string
	RunID        string
	WorkflowType string
	Input        *commonpb.Payloads
	IsReplaying  bool
	State        any

	seq uint32
}

// NextSeq returns the next command sequence number for the run, starting
// at 1. Replay reproduces the same numbers because handlers are
// deterministic.
func (r *Run) NextSeq() uint32 {
	r.seq++
	return r.seq
}
