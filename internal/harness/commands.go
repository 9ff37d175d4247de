package harness

import (
	"time"

	"github.com/fyrsmithlabs/wfharness/internal/engine"
)

// TestActivityType is the activity type every scheduled test activity uses.
const TestActivityType = "test_activity"

// ScheduleActivityCmd schedules a test activity whose schedule-to-start,
// start-to-close and schedule-to-close timeouts all equal activityTimeout.
func ScheduleActivityCmd(
	seq uint32,
	taskQueue, activityID string,
	cancellation engine.CancellationType,
	activityTimeout, heartbeatTimeout time.Duration,
) engine.Command {
	return engine.ScheduleActivity{
		Seq:                    seq,
		ActivityID:             activityID,
		ActivityType:           TestActivityType,
		Namespace:              Namespace,
		TaskQueue:              taskQueue,
		ScheduleToStartTimeout: activityTimeout,
		StartToCloseTimeout:    activityTimeout,
		ScheduleToCloseTimeout: activityTimeout,
		HeartbeatTimeout:       heartbeatTimeout,
		CancellationType:       cancellation,
	}
}

// StartTimerCmd starts timer seq firing after d.
func StartTimerCmd(seq uint32, d time.Duration) engine.Command {
	return engine.StartTimer{Seq: seq, StartToFireTimeout: d}
}
