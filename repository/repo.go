package repository

import (
	"context"
	"database/sql"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"stream-recorder/constant"
	"stream-recorder/entities"
	"time"
)

type Repository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB() *gorm.DB

	CreateRecording(ctx context.Context, recording *entities.Recording) error
	FindRecordingById(ctx context.Context, id uuid.UUID) (*entities.Recording, error)
	UpdateRecordingState(ctx context.Context, id uuid.UUID, state constant.RecordingState) error
	UpdateRecordingFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error

	CreateSchedule(ctx context.Context, schedule *entities.Schedule) error
	FindScheduleById(ctx context.Context, id uuid.UUID) (*entities.Schedule, error)
	FindDueSchedules(ctx context.Context, now time.Time, lookahead time.Duration) ([]*entities.Schedule, error)
	ClaimSchedule(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateScheduleState(ctx context.Context, id uuid.UUID, state constant.ScheduleState, lastError string) error
	SetScheduleRecording(ctx context.Context, scheduleId, recordingId uuid.UUID) error
	HasOpenScheduleForMatch(ctx context.Context, matchId uuid.UUID) (bool, error)

	FindMatchById(ctx context.Context, id uuid.UUID) (*entities.Match, error)
	FindUpcomingAutoRecordMatches(ctx context.Context, from time.Time, horizon time.Duration) ([]*entities.Match, error)

	GetSetting(ctx context.Context, key string) (*entities.Setting, error)
	UpsertSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) ([]*entities.Setting, error)
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) Repository {
	gormDB, _ := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	return &repo{
		db: gormDB,
	}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.GetDB().Transaction(func(tx *gorm.DB) error {
		return callback(ctx)
	}, opts...)
}

func (r *repo) CreateRecording(ctx context.Context, recording *entities.Recording) error {
	return r.GetDB().WithContext(ctx).Create(recording).Error
}

func (r *repo) FindRecordingById(ctx context.Context, id uuid.UUID) (*entities.Recording, error) {
	recording := &entities.Recording{}
	err := r.GetDB().WithContext(ctx).First(recording, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return recording, nil
}

func (r *repo) UpdateRecordingState(ctx context.Context, id uuid.UUID, state constant.RecordingState) error {
	return r.UpdateRecordingFields(ctx, id, map[string]interface{}{"state": state})
}

func (r *repo) UpdateRecordingFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	recording := &entities.Recording{}
	return r.GetDB().WithContext(ctx).Model(recording).Where("id = ?", id).Updates(fields).Error
}

func (r *repo) CreateSchedule(ctx context.Context, schedule *entities.Schedule) error {
	return r.GetDB().WithContext(ctx).Create(schedule).Error
}

func (r *repo) FindScheduleById(ctx context.Context, id uuid.UUID) (*entities.Schedule, error) {
	schedule := &entities.Schedule{}
	err := r.GetDB().WithContext(ctx).First(schedule, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

// FindDueSchedules returns pending schedules whose start time falls before
// now+lookahead. Schedules whose start has already passed are included, so a
// dispatcher that was down still picks them up on the next tick.
func (r *repo) FindDueSchedules(ctx context.Context, now time.Time, lookahead time.Duration) ([]*entities.Schedule, error) {
	var schedules []*entities.Schedule
	err := r.GetDB().WithContext(ctx).
		Where("state = ? AND start_at < ?", constant.ScheduleStatePending, now.Add(lookahead)).
		Order("start_at ASC").
		Find(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

// ClaimSchedule moves a schedule PENDING -> EXECUTING with a conditional
// update. Returns false when the row was already claimed by another tick.
func (r *repo) ClaimSchedule(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.GetDB().WithContext(ctx).Model(&entities.Schedule{}).
		Where("id = ? AND state = ?", id, constant.ScheduleStatePending).
		Updates(map[string]interface{}{
			"state":      constant.ScheduleStateExecuting,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateScheduleState(ctx context.Context, id uuid.UUID, state constant.ScheduleState, lastError string) error {
	updates := map[string]interface{}{
		"state":      state,
		"updated_at": time.Now(),
	}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	return r.GetDB().WithContext(ctx).Model(&entities.Schedule{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repo) SetScheduleRecording(ctx context.Context, scheduleId, recordingId uuid.UUID) error {
	return r.GetDB().WithContext(ctx).Model(&entities.Schedule{}).
		Where("id = ?", scheduleId).
		Updates(map[string]interface{}{
			"recording_id": recordingId,
			"updated_at":   time.Now(),
		}).Error
}

func (r *repo) HasOpenScheduleForMatch(ctx context.Context, matchId uuid.UUID) (bool, error) {
	var count int64
	err := r.GetDB().WithContext(ctx).Model(&entities.Schedule{}).
		Where("match_id = ? AND state NOT IN ?", matchId, []constant.ScheduleState{
			constant.ScheduleStateCompleted,
			constant.ScheduleStateFailed,
		}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) FindMatchById(ctx context.Context, id uuid.UUID) (*entities.Match, error) {
	match := &entities.Match{}
	err := r.GetDB().WithContext(ctx).First(match, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return match, nil
}

func (r *repo) FindUpcomingAutoRecordMatches(ctx context.Context, from time.Time, horizon time.Duration) ([]*entities.Match, error) {
	var matches []*entities.Match
	err := r.GetDB().WithContext(ctx).
		Where("auto_record = ? AND kickoff_at BETWEEN ? AND ?", true, from, from.Add(horizon)).
		Order("kickoff_at ASC").
		Find(&matches).Error
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (r *repo) GetSetting(ctx context.Context, key string) (*entities.Setting, error) {
	setting := &entities.Setting{}
	err := r.GetDB().WithContext(ctx).First(setting, "key = ?", key).Error
	if err != nil {
		return nil, err
	}
	return setting, nil
}

func (r *repo) UpsertSetting(ctx context.Context, key, value string) error {
	setting := &entities.Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	return r.GetDB().WithContext(ctx).Save(setting).Error
}

func (r *repo) ListSettings(ctx context.Context) ([]*entities.Setting, error) {
	var settings []*entities.Setting
	err := r.GetDB().WithContext(ctx).Order("key ASC").Find(&settings).Error
	if err != nil {
		return nil, err
	}
	return settings, nil
}
