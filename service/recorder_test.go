package service

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"stream-recorder/config"
	"stream-recorder/constant"
	"stream-recorder/entities"
	"stream-recorder/registry"
	"sync"
	"testing"
	"time"
)

type recorderEnv struct {
	repo     *fakeRepo
	launcher *fakeLauncher
	uploader *fakeUploader
	registry *registry.Registry
	recorder Recorder
}

func newRecorderEnv(t *testing.T, mutate func(*config.Recorder)) *recorderEnv {
	t.Helper()
	cfg := config.Recorder{
		OutputDir:   t.TempDir(),
		FFmpegPath:  "ffmpeg",
		FFprobePath: filepath.Join(t.TempDir(), "missing-ffprobe"),
		MaxDuration: time.Hour,
		StopGrace:   50 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	env := &recorderEnv{
		repo:     newFakeRepo(),
		launcher: &fakeLauncher{writeFile: true},
		uploader: &fakeUploader{},
		registry: registry.New(),
	}
	env.recorder = NewRecorder(env.repo, env.registry, env.uploader, env.launcher.launch, nil, cfg)
	return env
}

func (env *recorderEnv) newRecording(t *testing.T) *entities.Recording {
	t.Helper()
	recording := &entities.Recording{
		ID:        uuid.New(),
		Title:     "Arsenal vs Chelsea",
		SourceURL: "https://stream.example.com/live/main.m3u8",
		State:     constant.RecordingStatePending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, env.repo.CreateRecording(context.Background(), recording))
	return recording
}

func TestStartLaunchesCaptureAndCompletes(t *testing.T) {
	env := newRecorderEnv(t, nil)
	recording := env.newRecording(t)

	require.NoError(t, env.recorder.Start(context.Background(), recording))
	require.Equal(t, 1, env.launcher.count())
	require.Equal(t, 1, env.registry.Len())
	require.Equal(t, constant.RecordingStateRecording, env.repo.recordingState(recording.ID))

	env.launcher.handle(0).complete(nil)

	require.Eventually(t, func() bool {
		return env.repo.recordingState(recording.ID) == constant.RecordingStateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := env.repo.FindRecordingById(context.Background(), recording.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.StorageKey)
	assert.Nil(t, stored.LocalPath)
	assert.Equal(t, int64(7), stored.SizeBytes)
	assert.Equal(t, 0, env.registry.Len())
}

func TestStartRejectsDoubleStart(t *testing.T) {
	env := newRecorderEnv(t, nil)
	recording := env.newRecording(t)

	require.NoError(t, env.recorder.Start(context.Background(), recording))

	second := *recording
	second.State = constant.RecordingStatePending
	err := env.recorder.Start(context.Background(), &second)
	require.ErrorIs(t, err, ErrAlreadyActive)
	assert.Equal(t, 1, env.launcher.count())

	env.launcher.handle(0).complete(nil)
}

func TestConcurrentStartAdmitsExactlyOne(t *testing.T) {
	env := newRecorderEnv(t, nil)
	recording := env.newRecording(t)

	copies := []*entities.Recording{recording, {
		ID:        recording.ID,
		Title:     recording.Title,
		SourceURL: recording.SourceURL,
		State:     constant.RecordingStatePending,
	}}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range copies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.recorder.Start(context.Background(), copies[i])
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrAlreadyActive)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, 1, env.launcher.count())
	assert.Equal(t, 1, env.registry.Len())

	env.launcher.handle(0).complete(nil)
}

func TestStartRejectsTerminalRecording(t *testing.T) {
	env := newRecorderEnv(t, nil)
	recording := env.newRecording(t)
	require.NoError(t, env.repo.UpdateRecordingState(context.Background(), recording.ID, constant.RecordingStateCompleted))

	// The persisted row decides, not the caller's copy.
	recording.State = constant.RecordingStatePending

	err := env.recorder.Start(context.Background(), recording)
	require.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.Equal(t, 0, env.launcher.count())
	assert.Equal(t, 0, env.registry.Len())
}

func TestStopWithoutActiveRecording(t *testing.T) {
	env := newRecorderEnv(t, nil)

	err := env.recorder.Stop(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotActive)
}

func TestStopEndsActiveRecording(t *testing.T) {
	env := newRecorderEnv(t, nil)
	recording := env.newRecording(t)

	require.NoError(t, env.recorder.Start(context.Background(), recording))
	require.NoError(t, env.recorder.Stop(context.Background(), recording.ID))

	assert.Equal(t, 0, env.registry.Len())
	assert.Equal(t, constant.RecordingStateStopped, env.repo.recordingState(recording.ID))

	handle := env.launcher.handle(0)
	require.Eventually(t, func() bool {
		select {
		case <-handle.stopped:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	// A second stop is an admission error, not a repeat.
	err := env.recorder.Stop(context.Background(), recording.ID)
	require.ErrorIs(t, err, ErrNotActive)
}

func TestCaptureFailureMarksRecordingFailed(t *testing.T) {
	env := newRecorderEnv(t, nil)
	recording := env.newRecording(t)

	require.NoError(t, env.recorder.Start(context.Background(), recording))
	env.launcher.handle(0).complete(errors.New("connection reset by peer"))

	require.Eventually(t, func() bool {
		return env.repo.recordingState(recording.ID) == constant.RecordingStateFailed
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := env.repo.FindRecordingById(context.Background(), recording.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "connection reset")
	assert.Equal(t, 0, env.registry.Len())
}

func TestUploadFailureKeepsLocalFile(t *testing.T) {
	env := newRecorderEnv(t, nil)
	env.uploader.err = errors.New("object store unreachable")
	recording := env.newRecording(t)

	require.NoError(t, env.recorder.Start(context.Background(), recording))
	env.launcher.handle(0).complete(nil)

	require.Eventually(t, func() bool {
		return env.repo.recordingState(recording.ID) == constant.RecordingStateFailed
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := env.repo.FindRecordingById(context.Background(), recording.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LocalPath)
	_, statErr := os.Stat(*stored.LocalPath)
	assert.NoError(t, statErr, "local file must survive a failed upload")
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "object store unreachable")
	assert.Equal(t, 0, env.registry.Len())
}

func TestWatchdogStopsOverlongCapture(t *testing.T) {
	env := newRecorderEnv(t, func(cfg *config.Recorder) {
		cfg.MaxDuration = 30 * time.Millisecond
	})
	recording := env.newRecording(t)

	require.NoError(t, env.recorder.Start(context.Background(), recording))

	require.Eventually(t, func() bool {
		return env.repo.recordingState(recording.ID) == constant.RecordingStateStopped
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := env.repo.FindRecordingById(context.Background(), recording.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, constant.StopReasonMaxDuration, *stored.LastError)

	require.Eventually(t, func() bool {
		return env.registry.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestActiveSnapshot(t *testing.T) {
	env := newRecorderEnv(t, nil)
	recording := env.newRecording(t)

	require.Empty(t, env.recorder.Active())

	require.NoError(t, env.recorder.Start(context.Background(), recording))

	active := env.recorder.Active()
	require.Len(t, active, 1)
	assert.Equal(t, recording.ID, active[0].RecordingId)
	assert.Equal(t, recording.Title, active[0].Title)
	assert.GreaterOrEqual(t, active[0].ElapsedSeconds, 0)

	env.launcher.handle(0).complete(nil)
}

func TestLaunchFailureReleasesRegistry(t *testing.T) {
	env := newRecorderEnv(t, nil)
	env.launcher.launchErr = errors.New("ffmpeg not found")
	recording := env.newRecording(t)

	err := env.recorder.Start(context.Background(), recording)
	require.Error(t, err)
	assert.Equal(t, 0, env.registry.Len())
	assert.Equal(t, constant.RecordingStateFailed, env.repo.recordingState(recording.ID))

	// The slot is free again once the row is reset for a fresh attempt.
	env.launcher.launchErr = nil
	require.NoError(t, env.repo.UpdateRecordingState(context.Background(), recording.ID, constant.RecordingStatePending))
	retry := *recording
	retry.State = constant.RecordingStatePending
	require.NoError(t, env.recorder.Start(context.Background(), &retry))
	env.launcher.handle(0).complete(nil)
}

func TestStopDuringLaunchEndsFreshCapture(t *testing.T) {
	env := newRecorderEnv(t, nil)
	recording := env.newRecording(t)

	// Stop lands after the registry reserve but before the handle is bound.
	env.launcher.onLaunch = func() {
		require.NoError(t, env.recorder.Stop(context.Background(), recording.ID))
	}

	require.NoError(t, env.recorder.Start(context.Background(), recording))

	assert.Equal(t, constant.RecordingStateStopped, env.repo.recordingState(recording.ID))
	assert.Equal(t, 0, env.registry.Len())

	handle := env.launcher.handle(0)
	require.Eventually(t, func() bool {
		select {
		case <-handle.stopped:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "orphaned process must be signalled")
}
