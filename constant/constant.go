package constant

type RecordingState string

const (
	RecordingStatePending   RecordingState = "PENDING"
	RecordingStateRecording RecordingState = "RECORDING"
	RecordingStateCompleted RecordingState = "COMPLETED"
	RecordingStateFailed    RecordingState = "FAILED"
	RecordingStateStopped   RecordingState = "STOPPED"
)

// Terminal reports whether no further transition is allowed from s.
func (s RecordingState) Terminal() bool {
	switch s {
	case RecordingStateCompleted, RecordingStateFailed, RecordingStateStopped:
		return true
	}
	return false
}

func (s RecordingState) String() string {
	return string(s)
}

type ScheduleState string

const (
	ScheduleStatePending   ScheduleState = "PENDING"
	ScheduleStateExecuting ScheduleState = "EXECUTING"
	ScheduleStateActive    ScheduleState = "ACTIVE"
	ScheduleStateCompleted ScheduleState = "COMPLETED"
	ScheduleStateFailed    ScheduleState = "FAILED"
)

func (s ScheduleState) Terminal() bool {
	return s == ScheduleStateCompleted || s == ScheduleStateFailed
}

func (s ScheduleState) String() string {
	return string(s)
}

// StopReasonMaxDuration is recorded when the duration watchdog ends a capture.
const StopReasonMaxDuration = "max duration exceeded"

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
