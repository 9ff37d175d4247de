// Package engine is a minimal activation-based workflow engine.
//
// A Core polls workflow tasks from a WorkflowService and splits each task's
// history into activations: one per workflow task recorded in the history.
// Activations for tasks that already completed are replayed, and the commands
// the worker returns for them must match the command events in history.
// The last activation of a task is live and its commands are sent back to the
// service.
//
// The service can be a Temporal frontend (Init with a host:port target), the
// in-process devserver (Init with an "inproc://" target) or a fixed history
// (InitReplay followed by MakeReplayWorker). Workers see the same Engine
// interface in all three cases.
//
//	core, err := engine.Init(ctx, opts)
//	if err != nil {
//	    return err
//	}
//	defer core.Shutdown(ctx)
//
//	if err := core.RegisterWorker(engine.WorkerConfig{TaskQueue: "q", MaxCachedWorkflows: 10}); err != nil {
//	    return err
//	}
//	act, err := core.PollWorkflowActivation(ctx, "q")
package engine
