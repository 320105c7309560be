package service

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"os"
	"path/filepath"
	"stream-recorder/constant"
	"stream-recorder/dto"
	"stream-recorder/entities"
	"stream-recorder/pkg/capture"
	"sync"
	"time"
)

// fakeRepo is an in-memory stand-in for the GORM repository.
type fakeRepo struct {
	mu         sync.Mutex
	recordings map[uuid.UUID]*entities.Recording
	schedules  map[uuid.UUID]*entities.Schedule
	matches    map[uuid.UUID]*entities.Match
	settings   map[string]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		recordings: make(map[uuid.UUID]*entities.Recording),
		schedules:  make(map[uuid.UUID]*entities.Schedule),
		matches:    make(map[uuid.UUID]*entities.Match),
		settings:   make(map[string]string),
	}
}

func (r *fakeRepo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return callback(ctx)
}

func (r *fakeRepo) GetDB() *gorm.DB { return nil }

func (r *fakeRepo) CreateRecording(ctx context.Context, recording *entities.Recording) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *recording
	r.recordings[recording.ID] = &clone
	return nil
}

func (r *fakeRepo) FindRecordingById(ctx context.Context, id uuid.UUID) (*entities.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recording, ok := r.recordings[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *recording
	return &clone, nil
}

func (r *fakeRepo) UpdateRecordingState(ctx context.Context, id uuid.UUID, state constant.RecordingState) error {
	return r.UpdateRecordingFields(ctx, id, map[string]interface{}{"state": state})
}

func (r *fakeRepo) UpdateRecordingFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	recording, ok := r.recordings[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for key, value := range fields {
		switch key {
		case "state":
			recording.State = value.(constant.RecordingState)
		case "started_at":
			t := value.(time.Time)
			recording.StartedAt = &t
		case "completed_at":
			t := value.(time.Time)
			recording.CompletedAt = &t
		case "local_path":
			if value == nil {
				recording.LocalPath = nil
			} else {
				path := value.(string)
				recording.LocalPath = &path
			}
		case "storage_key":
			keyValue := value.(string)
			recording.StorageKey = &keyValue
		case "last_error":
			msg := value.(string)
			recording.LastError = &msg
		case "duration_seconds":
			recording.DurationSeconds = value.(int)
		case "size_bytes":
			recording.SizeBytes = value.(int64)
		}
	}
	return nil
}

func (r *fakeRepo) CreateSchedule(ctx context.Context, schedule *entities.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *schedule
	r.schedules[schedule.ID] = &clone
	return nil
}

func (r *fakeRepo) FindScheduleById(ctx context.Context, id uuid.UUID) (*entities.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.schedules[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *schedule
	return &clone, nil
}

func (r *fakeRepo) FindDueSchedules(ctx context.Context, now time.Time, lookahead time.Duration) ([]*entities.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*entities.Schedule
	for _, schedule := range r.schedules {
		if schedule.State == constant.ScheduleStatePending && schedule.StartAt.Before(now.Add(lookahead)) {
			clone := *schedule
			due = append(due, &clone)
		}
	}
	return due, nil
}

func (r *fakeRepo) ClaimSchedule(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.schedules[id]
	if !ok || schedule.State != constant.ScheduleStatePending {
		return false, nil
	}
	schedule.State = constant.ScheduleStateExecuting
	return true, nil
}

func (r *fakeRepo) UpdateScheduleState(ctx context.Context, id uuid.UUID, state constant.ScheduleState, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.schedules[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	schedule.State = state
	if lastError != "" {
		schedule.LastError = &lastError
	}
	return nil
}

func (r *fakeRepo) SetScheduleRecording(ctx context.Context, scheduleId, recordingId uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.schedules[scheduleId]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	schedule.RecordingId = &recordingId
	return nil
}

func (r *fakeRepo) HasOpenScheduleForMatch(ctx context.Context, matchId uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, schedule := range r.schedules {
		if schedule.MatchId != nil && *schedule.MatchId == matchId && !schedule.State.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) FindMatchById(ctx context.Context, id uuid.UUID) (*entities.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	match, ok := r.matches[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *match
	return &clone, nil
}

func (r *fakeRepo) FindUpcomingAutoRecordMatches(ctx context.Context, from time.Time, horizon time.Duration) ([]*entities.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var upcoming []*entities.Match
	for _, match := range r.matches {
		if match.AutoRecord && match.KickoffAt.After(from) && match.KickoffAt.Before(from.Add(horizon)) {
			clone := *match
			upcoming = append(upcoming, &clone)
		}
	}
	return upcoming, nil
}

func (r *fakeRepo) GetSetting(ctx context.Context, key string) (*entities.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.settings[key]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &entities.Setting{Key: key, Value: value}, nil
}

func (r *fakeRepo) UpsertSetting(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[key] = value
	return nil
}

func (r *fakeRepo) ListSettings(ctx context.Context) ([]*entities.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var settings []*entities.Setting
	for key, value := range r.settings {
		settings = append(settings, &entities.Setting{Key: key, Value: value})
	}
	return settings, nil
}

func (r *fakeRepo) recordingState(id uuid.UUID) constant.RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	recording, ok := r.recordings[id]
	if !ok {
		return ""
	}
	return recording.State
}

func (r *fakeRepo) scheduleState(id uuid.UUID) constant.ScheduleState {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.schedules[id]
	if !ok {
		return ""
	}
	return schedule.State
}

// fakeHandle is a controllable capture process.
type fakeHandle struct {
	path     string
	done     chan capture.Result
	stopped  chan struct{}
	stopOnce sync.Once
	killErr  error
}

func newFakeHandle(path string) *fakeHandle {
	return &fakeHandle{
		path:    path,
		done:    make(chan capture.Result, 1),
		stopped: make(chan struct{}),
	}
}

func (h *fakeHandle) Done() <-chan capture.Result { return h.done }

func (h *fakeHandle) Stop(grace time.Duration) {
	h.stopOnce.Do(func() {
		close(h.stopped)
		err := h.killErr
		if err == nil {
			err = fmt.Errorf("signal: interrupt")
		}
		h.done <- capture.Result{Path: h.path, Err: err}
	})
}

func (h *fakeHandle) complete(err error) {
	h.done <- capture.Result{Path: h.path, Err: err}
}

// fakeLauncher counts launches and produces fakeHandles. When writeFile is
// set, a dummy output file appears at the derived path, like a real capture.
type fakeLauncher struct {
	mu        sync.Mutex
	launchErr error
	writeFile bool
	onLaunch  func()
	handles   []*fakeHandle
}

func (l *fakeLauncher) launch(ctx context.Context, opts capture.Options) (capture.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	if l.writeFile {
		if err := os.WriteFile(opts.OutputPath, []byte("capture"), 0o644); err != nil {
			return nil, err
		}
	}
	if l.onLaunch != nil {
		l.onLaunch()
	}
	handle := newFakeHandle(opts.OutputPath)
	l.handles = append(l.handles, handle)
	return handle, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}

func (l *fakeLauncher) handle(i int) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[i]
}

// fakeUploader mimics the pipeline contract: deletes the local file on
// success, leaves it alone on failure.
type fakeUploader struct {
	mu      sync.Mutex
	err     error
	uploads []string
}

func (u *fakeUploader) Upload(ctx context.Context, recording *entities.Recording, localPath string) UploadResult {
	u.mu.Lock()
	defer u.mu.Unlock()
	key := fmt.Sprintf("recordings/%s/%s", recording.ID, filepath.Base(localPath))
	if u.err != nil {
		return UploadResult{Key: key, Err: u.err}
	}
	u.uploads = append(u.uploads, key)
	_ = os.Remove(localPath)
	return UploadResult{Key: key, Size: 7}
}

func (u *fakeUploader) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "http://minio.local/" + key, nil
}

// fakeRecorder lets dispatcher tests observe lifecycle calls.
type fakeRecorder struct {
	mu       sync.Mutex
	startErr error
	started  []uuid.UUID
	stopped  []uuid.UUID
}

func (f *fakeRecorder) Start(ctx context.Context, recording *entities.Recording) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, recording.ID)
	return nil
}

func (f *fakeRecorder) Stop(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeRecorder) Active() []dto.ActiveRecording { return nil }

func (f *fakeRecorder) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func (f *fakeRecorder) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stopped)
}
