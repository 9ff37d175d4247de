package history

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	historypb "go.temporal.io/api/history/v1"
	"google.golang.org/protobuf/proto"
)

const timerFixture = "testdata/timer.json"

func TestFromJSONFile(t *testing.T) {
	h, err := FromJSONFile(timerFixture)
	require.NoError(t, err)

	events := h.GetEvents()
	require.Len(t, events, 10)
	assert.Equal(t, enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_STARTED, events[0].GetEventType())
	assert.Equal(t, "timer_wf", events[0].GetWorkflowExecutionStartedEventAttributes().GetWorkflowType().GetName())
	assert.Equal(t, "1", events[4].GetTimerStartedEventAttributes().GetTimerId())
	assert.Equal(t, int64(10), events[9].GetEventId())
}

func TestFromJSONFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := FromJSONFile(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"events":[]}`), 0o600))
	_, err = FromJSONFile(empty)
	assert.ErrorIs(t, err, ErrEmpty)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"events": [`), 0o600))
	_, err = FromJSONFile(bad)
	assert.Error(t, err)
}

func TestProtoBinaryFile(t *testing.T) {
	h, err := FromJSONFile(timerFixture)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "timer.bin")

	require.NoError(t, WriteProtoBinary(path, h))
	got, err := FromProtoBinary(path)
	require.NoError(t, err)
	assert.True(t, proto.Equal(h, got))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, proto.Equal(h, loaded))
}

func TestFromProtoBinary_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := FromProtoBinary(filepath.Join(dir, "missing.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	garbage := filepath.Join(dir, "garbage.bin")
	require.NoError(t, os.WriteFile(garbage, []byte{0xff, 0xff, 0xff}, 0o600))
	_, err = FromProtoBinary(garbage)
	assert.ErrorContains(t, err, "decoding history")

	empty := filepath.Join(dir, "empty.bin")
	require.NoError(t, WriteProtoBinary(empty, &historypb.History{}))
	_, err = FromProtoBinary(empty)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestWriteJSON_ReadBack(t *testing.T) {
	h, err := Load(timerFixture)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, h))
	assert.Contains(t, buf.String(), "EVENT_TYPE_TIMER_FIRED")

	got, err := FromJSON(&buf)
	require.NoError(t, err)
	assert.True(t, proto.Equal(h, got))
}

func TestSummarize(t *testing.T) {
	h, err := Load(timerFixture)
	require.NoError(t, err)

	s := Summarize(h)
	assert.Equal(t, "timer_wf", s.WorkflowType)
	assert.Equal(t, "harness-q", s.TaskQueue)
	assert.Equal(t, int64(1), s.FirstEventID)
	assert.Equal(t, int64(10), s.LastEventID)
	assert.Equal(t, "completed", s.Status)
	require.Len(t, s.Events, 10)
	assert.Equal(t, Event{ID: 6, Type: "TIMER_FIRED"}, s.Events[5])

	// Dropping the close event leaves the run open.
	h.Events = h.Events[:9]
	assert.Equal(t, "running", Summarize(h).Status)
	assert.Equal(t, "empty", Summarize(&historypb.History{}).Status)
}

func TestSummary_Write(t *testing.T) {
	s := Summary{
		WorkflowType: "wf",
		TaskQueue:    "q",
		FirstEventID: 1,
		LastEventID:  2,
		Status:       "running",
		Events: []Event{
			{ID: 1, Type: "WORKFLOW_EXECUTION_STARTED"},
			{ID: 2, Type: "WORKFLOW_TASK_SCHEDULED"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, s.Write(&buf))
	want := strings.Join([]string{
		"Workflow type: wf",
		"Task queue:    q",
		"Events:        2 (ids 1-2)",
		"Status:        running",
		"",
		"ID  EVENT TYPE",
		"1   WORKFLOW_EXECUTION_STARTED",
		"2   WORKFLOW_TASK_SCHEDULED",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestEventTypeName(t *testing.T) {
	assert.Equal(t, "ACTIVITY_TASK_COMPLETED", EventTypeName(enumspb.EVENT_TYPE_ACTIVITY_TASK_COMPLETED))
	assert.Equal(t, "UNKNOWN(9999)", EventTypeName(enumspb.EventType(9999)))
}
