package engine

import (
	"fmt"
	"strconv"

	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	failurepb "go.temporal.io/api/failure/v1"
	historypb "go.temporal.io/api/history/v1"
)

// runState is the cached state of one workflow run.
type runState struct {
	runID        string
	workflowID   string
	workflowType string
	taskQueue    string

	// Current workflow task and the events it has not consumed yet.
	task        *workflowTask
	events      []*historypb.HistoryEvent
	pos         int
	lastEventID int64

	// Activation in flight. expected holds the recorded command events a
	// replaying activation must reproduce.
	current  *Activation
	issued   bool
	expected []*historypb.HistoryEvent

	activitySeqs map[int64]uint32 // scheduled event id -> seq
	lastCommands []Command        // sent by the last live activation
	completed    bool

	evicting bool
	deferred *workflowTask
}

func newRunState(taskQueue string, task *workflowTask) *runState {
	return &runState{
		runID:        task.runID,
		workflowID:   task.workflowID,
		workflowType: task.workflowType,
		taskQueue:    taskQueue,
		activitySeqs: make(map[int64]uint32),
	}
}

// load attaches task and keeps the events the run has not processed.
func (r *runState) load(task *workflowTask) {
	r.task = task
	r.events = nil
	for _, e := range task.events {
		if e.GetEventId() > r.lastEventID {
			r.events = append(r.events, e)
		}
	}
	r.pos = 0
}

// next builds the next activation from the loaded events, with the command
// events it must reproduce when replaying. It returns a nil activation once
// the task is exhausted.
func (r *runState) next() (*Activation, []*historypb.HistoryEvent, error) {
	var jobs []Job
	for r.pos < len(r.events) {
		e := r.events[r.pos]
		r.pos++
		r.lastEventID = e.GetEventId()

		switch e.GetEventType() {
		case enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_STARTED:
			attrs := e.GetWorkflowExecutionStartedEventAttributes()
			jobs = append(jobs, StartWorkflow{
				WorkflowType: attrs.GetWorkflowType().GetName(),
				WorkflowID:   r.workflowID,
				Arguments:    attrs.GetInput(),
			})

		case enumspb.EVENT_TYPE_TIMER_FIRED:
			id := e.GetTimerFiredEventAttributes().GetTimerId()
			seq, err := strconv.ParseUint(id, 10, 32)
			if err != nil {
				return nil, nil, r.nondeterminism(e, "timer id %q is not a sequence number", id)
			}
			jobs = append(jobs, FireTimer{Seq: uint32(seq)})

		case enumspb.EVENT_TYPE_ACTIVITY_TASK_COMPLETED:
			attrs := e.GetActivityTaskCompletedEventAttributes()
			job, err := r.resolveActivity(e, attrs.GetScheduledEventId(), attrs.GetResult(), nil)
			if err != nil {
				return nil, nil, err
			}
			jobs = append(jobs, job)

		case enumspb.EVENT_TYPE_ACTIVITY_TASK_FAILED:
			attrs := e.GetActivityTaskFailedEventAttributes()
			job, err := r.resolveActivity(e, attrs.GetScheduledEventId(), nil, attrs.GetFailure())
			if err != nil {
				return nil, nil, err
			}
			jobs = append(jobs, job)

		case enumspb.EVENT_TYPE_ACTIVITY_TASK_TIMED_OUT:
			attrs := e.GetActivityTaskTimedOutEventAttributes()
			job, err := r.resolveActivity(e, attrs.GetScheduledEventId(), nil, attrs.GetFailure())
			if err != nil {
				return nil, nil, err
			}
			jobs = append(jobs, job)

		case enumspb.EVENT_TYPE_ACTIVITY_TASK_CANCELED:
			attrs := e.GetActivityTaskCanceledEventAttributes()
			failure := &failurepb.Failure{
				Message: "activity canceled",
				FailureInfo: &failurepb.Failure_CanceledFailureInfo{
					CanceledFailureInfo: &failurepb.CanceledFailureInfo{Details: attrs.GetDetails()},
				},
			}
			job, err := r.resolveActivity(e, attrs.GetScheduledEventId(), nil, failure)
			if err != nil {
				return nil, nil, err
			}
			jobs = append(jobs, job)

		case enumspb.EVENT_TYPE_WORKFLOW_TASK_COMPLETED:
			// Outcome of the previous live activation of a cached run.
			if err := r.match(r.lastCommands, r.takeCommandEvents()); err != nil {
				return nil, nil, err
			}
			r.lastCommands = nil

		case enumspb.EVENT_TYPE_WORKFLOW_TASK_STARTED:
			if r.pos == len(r.events) {
				return r.activation(jobs, false), nil, nil
			}
			if r.events[r.pos].GetEventType() == enumspb.EVENT_TYPE_WORKFLOW_TASK_COMPLETED {
				r.lastEventID = r.events[r.pos].GetEventId()
				r.pos++
				return r.activation(jobs, true), r.takeCommandEvents(), nil
			}
			// A failed or timed out task redelivers its jobs with the next one.
		}
	}
	return nil, nil, nil
}

func (r *runState) activation(jobs []Job, replaying bool) *Activation {
	return &Activation{
		RunID:       r.runID,
		WorkflowID:  r.workflowID,
		TaskQueue:   r.taskQueue,
		IsReplaying: replaying,
		Jobs:        jobs,
	}
}

func (r *runState) resolveActivity(e *historypb.HistoryEvent, scheduledID int64, result *commonpb.Payloads, failure *failurepb.Failure) (Job, error) {
	seq, ok := r.activitySeqs[scheduledID]
	if !ok {
		return nil, r.nondeterminism(e, "activity result for unknown scheduled event %d", scheduledID)
	}
	delete(r.activitySeqs, scheduledID)
	return ResolveActivity{Seq: seq, Result: result, Failure: failure}, nil
}

// takeCommandEvents consumes the events written for one task's commands.
func (r *runState) takeCommandEvents() []*historypb.HistoryEvent {
	start := r.pos
	for r.pos < len(r.events) && isCommandEvent(r.events[r.pos]) {
		r.lastEventID = r.events[r.pos].GetEventId()
		r.pos++
	}
	return r.events[start:r.pos]
}

func isCommandEvent(e *historypb.HistoryEvent) bool {
	switch e.GetEventType() {
	case enumspb.EVENT_TYPE_TIMER_STARTED,
		enumspb.EVENT_TYPE_ACTIVITY_TASK_SCHEDULED,
		enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_COMPLETED:
		return true
	default:
		return false
	}
}

// match checks cmds against the command events recorded for them, in order,
// and remembers which sequence number each scheduled activity carries.
func (r *runState) match(cmds []Command, events []*historypb.HistoryEvent) error {
	for i, cmd := range cmds {
		if i >= len(events) {
			return r.nondeterminism(nil, "command %d (%T) has no recorded event", i, cmd)
		}
		if err := r.matchOne(cmd, events[i]); err != nil {
			return err
		}
	}
	if len(events) > len(cmds) {
		e := events[len(cmds)]
		return r.nondeterminism(e, "history has %s with no matching command", e.GetEventType())
	}
	return nil
}

func (r *runState) matchOne(cmd Command, e *historypb.HistoryEvent) error {
	switch c := cmd.(type) {
	case StartTimer:
		attrs := e.GetTimerStartedEventAttributes()
		if attrs == nil {
			return r.nondeterminism(e, "timer %d started but history has %s", c.Seq, e.GetEventType())
		}
		if attrs.GetTimerId() != TimerID(c.Seq) {
			return r.nondeterminism(e, "timer id %s does not match recorded %s", TimerID(c.Seq), attrs.GetTimerId())
		}

	case ScheduleActivity:
		attrs := e.GetActivityTaskScheduledEventAttributes()
		if attrs == nil {
			return r.nondeterminism(e, "activity %s scheduled but history has %s", c.ActivityID, e.GetEventType())
		}
		if attrs.GetActivityId() != c.ActivityID || attrs.GetActivityType().GetName() != c.ActivityType {
			return r.nondeterminism(e, "activity %s/%s does not match recorded %s/%s",
				c.ActivityID, c.ActivityType, attrs.GetActivityId(), attrs.GetActivityType().GetName())
		}
		r.activitySeqs[e.GetEventId()] = c.Seq

	case CompleteWorkflowExecution:
		if e.GetEventType() != enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_COMPLETED {
			return r.nondeterminism(e, "workflow completed but history has %s", e.GetEventType())
		}

	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}
	return nil
}

func (r *runState) nondeterminism(e *historypb.HistoryEvent, format string, args ...any) error {
	return &NondeterminismError{
		RunID:   r.runID,
		EventID: e.GetEventId(),
		Message: fmt.Sprintf(format, args...),
	}
}
