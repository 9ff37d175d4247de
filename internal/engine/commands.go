package engine

import (
	"fmt"
	"strconv"
	"time"

	commandpb "go.temporal.io/api/command/v1"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Command is a workflow command produced for an activation.
type Command interface {
	isCommand()
}

// CancellationType controls how a scheduled activity reacts to cancellation.
type CancellationType int

const (
	// TryCancel requests cancellation and resolves immediately.
	TryCancel CancellationType = iota
	// WaitCancellationCompleted waits for the activity to acknowledge.
	WaitCancellationCompleted
	// Abandon resolves immediately without notifying the activity.
	Abandon
)

func (c CancellationType) String() string {
	switch c {
	case TryCancel:
		return "TryCancel"
	case WaitCancellationCompleted:
		return "WaitCancellationCompleted"
	case Abandon:
		return "Abandon"
	default:
		return "CancellationType(" + strconv.Itoa(int(c)) + ")"
	}
}

// ScheduleActivity schedules an activity task.
type ScheduleActivity struct {
	Seq                    uint32
	ActivityID             string
	ActivityType           string
	Namespace              string
	TaskQueue              string
	Input                  *commonpb.Payloads
	ScheduleToStartTimeout time.Duration
	StartToCloseTimeout    time.Duration
	ScheduleToCloseTimeout time.Duration
	HeartbeatTimeout       time.Duration
	CancellationType       CancellationType
}

// StartTimer starts a timer identified by its sequence number.
type StartTimer struct {
	Seq                uint32
	StartToFireTimeout time.Duration
}

// CompleteWorkflowExecution completes the run.
type CompleteWorkflowExecution struct {
	Result *commonpb.Payloads
}

func (ScheduleActivity) isCommand()          {}
func (StartTimer) isCommand()                {}
func (CompleteWorkflowExecution) isCommand() {}

// TimerID is the timer id recorded for a timer sequence number.
func TimerID(seq uint32) string {
	return strconv.FormatUint(uint64(seq), 10)
}

// toProto converts a command to its wire form.
func toProto(cmd Command) (*commandpb.Command, error) {
	switch c := cmd.(type) {
	case ScheduleActivity:
		return &commandpb.Command{
			CommandType: enumspb.COMMAND_TYPE_SCHEDULE_ACTIVITY_TASK,
			Attributes: &commandpb.Command_ScheduleActivityTaskCommandAttributes{
				ScheduleActivityTaskCommandAttributes: &commandpb.ScheduleActivityTaskCommandAttributes{
					ActivityId:             c.ActivityID,
					ActivityType:           &commonpb.ActivityType{Name: c.ActivityType},
					TaskQueue:              &taskqueuepb.TaskQueue{Name: c.TaskQueue, Kind: enumspb.TASK_QUEUE_KIND_NORMAL},
					Input:                  c.Input,
					ScheduleToCloseTimeout: optionalDuration(c.ScheduleToCloseTimeout),
					ScheduleToStartTimeout: optionalDuration(c.ScheduleToStartTimeout),
					StartToCloseTimeout:    optionalDuration(c.StartToCloseTimeout),
					HeartbeatTimeout:       optionalDuration(c.HeartbeatTimeout),
				},
			},
		}, nil
	case StartTimer:
		return &commandpb.Command{
			CommandType: enumspb.COMMAND_TYPE_START_TIMER,
			Attributes: &commandpb.Command_StartTimerCommandAttributes{
				StartTimerCommandAttributes: &commandpb.StartTimerCommandAttributes{
					TimerId:            TimerID(c.Seq),
					StartToFireTimeout: durationpb.New(c.StartToFireTimeout),
				},
			},
		}, nil
	case CompleteWorkflowExecution:
		return &commandpb.Command{
			CommandType: enumspb.COMMAND_TYPE_COMPLETE_WORKFLOW_EXECUTION,
			Attributes: &commandpb.Command_CompleteWorkflowExecutionCommandAttributes{
				CompleteWorkflowExecutionCommandAttributes: &commandpb.CompleteWorkflowExecutionCommandAttributes{
					Result: c.Result,
				},
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
}

func toProtos(cmds []Command) ([]*commandpb.Command, error) {
	out := make([]*commandpb.Command, 0, len(cmds))
	for _, cmd := range cmds {
		pc, err := toProto(cmd)
		if err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, nil
}

func optionalDuration(d time.Duration) *durationpb.Duration {
	if d <= 0 {
		return nil
	}
	return durationpb.New(d)
}

// completes reports whether cmds finish the run.
func completes(cmds []Command) bool {
	for _, cmd := range cmds {
		if _, ok := cmd.(CompleteWorkflowExecution); ok {
			return true
		}
	}
	return false
}
