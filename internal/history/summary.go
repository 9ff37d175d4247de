package history

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	enumspb "go.temporal.io/api/enums/v1"
	historypb "go.temporal.io/api/history/v1"
)

// Summary describes a history without its payloads.
type Summary struct {
	WorkflowType string
	TaskQueue    string
	FirstEventID int64
	LastEventID  int64
	Status       string
	Events       []Event
}

// Event is one line of a Summary.
type Event struct {
	ID   int64
	Type string
}

var closeStatus = map[enumspb.EventType]string{
	enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_COMPLETED:        "completed",
	enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_FAILED:           "failed",
	enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_TIMED_OUT:        "timed out",
	enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_CANCELED:         "canceled",
	enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_TERMINATED:       "terminated",
	enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_CONTINUED_AS_NEW: "continued as new",
}

// Summarize builds a Summary of h.
func Summarize(h *historypb.History) Summary {
	events := h.GetEvents()
	s := Summary{Status: "running"}
	if len(events) == 0 {
		s.Status = "empty"
		return s
	}

	attrs := events[0].GetWorkflowExecutionStartedEventAttributes()
	s.WorkflowType = attrs.GetWorkflowType().GetName()
	s.TaskQueue = attrs.GetTaskQueue().GetName()
	s.FirstEventID = events[0].GetEventId()
	s.LastEventID = events[len(events)-1].GetEventId()
	if status, ok := closeStatus[events[len(events)-1].GetEventType()]; ok {
		s.Status = status
	}

	s.Events = make([]Event, 0, len(events))
	for _, e := range events {
		s.Events = append(s.Events, Event{ID: e.GetEventId(), Type: EventTypeName(e.GetEventType())})
	}
	return s
}

// EventTypeName returns t without the EVENT_TYPE_ prefix.
func EventTypeName(t enumspb.EventType) string {
	name, ok := enumspb.EventType_name[int32(t)]
	if !ok {
		return fmt.Sprintf("UNKNOWN(%d)", int32(t))
	}
	return strings.TrimPrefix(name, "EVENT_TYPE_")
}

// Write prints the summary followed by one row per event.
func (s Summary) Write(w io.Writer) error {
	fmt.Fprintf(w, "Workflow type: %s\n", s.WorkflowType)
	fmt.Fprintf(w, "Task queue:    %s\n", s.TaskQueue)
	fmt.Fprintf(w, "Events:        %d (ids %d-%d)\n", len(s.Events), s.FirstEventID, s.LastEventID)
	fmt.Fprintf(w, "Status:        %s\n\n", s.Status)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEVENT TYPE")
	for _, e := range s.Events {
		fmt.Fprintf(tw, "%d\t%s\n", e.ID, e.Type)
	}
	return tw.Flush()
}
