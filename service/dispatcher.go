package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"stream-recorder/config"
	"stream-recorder/constant"
	"stream-recorder/entities"
	"stream-recorder/repository"
	"time"
)

// SettingStreamURL is the settings key holding the stream source used for
// recordings synthesized from a match.
const SettingStreamURL = "stream_url"

var ErrScheduleNotPending = errors.New("schedule is not pending")

// Dispatcher polls for due schedules and hands their recordings to the
// lifecycle manager. Window-based polling tolerates downtime: a schedule
// whose start already passed is still executed, once, on the next tick.
type Dispatcher struct {
	repo     repository.Repository
	recorder Recorder
	cfg      config.Dispatcher
	logger   zerolog.Logger
	now      func() time.Time
}

func NewDispatcher(repo repository.Repository, recorder Recorder, cfg config.Dispatcher) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		recorder: recorder,
		cfg:      cfg,
		logger:   log.With().Str("component", "dispatcher").Logger(),
		now:      time.Now,
	}
}

// Run drives the dispatch tick and the slower auto-schedule generator until
// the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ctx = d.logger.WithContext(ctx)
	zerolog.Ctx(ctx).Info().
		Dur("tick_interval", d.cfg.TickInterval).
		Dur("lookahead", d.cfg.Lookahead).
		Msg("dispatcher started")

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()
	autogen := time.NewTicker(d.cfg.AutogenInterval)
	defer autogen.Stop()

	d.Tick(ctx)
	d.GenerateFromMatches(ctx)

	for {
		select {
		case <-ctx.Done():
			zerolog.Ctx(ctx).Info().Msg("dispatcher stopping")
			return
		case <-ticker.C:
			d.Tick(ctx)
		case <-autogen.C:
			d.GenerateFromMatches(ctx)
		}
	}
}

// Tick claims every due schedule and executes each in its own goroutine so
// one stuck capture never delays the others. The conditional claim makes a
// second tick (or a second dispatcher instance) lose the race cleanly.
func (d *Dispatcher) Tick(ctx context.Context) {
	now := d.now()
	due, err := d.repo.FindDueSchedules(ctx, now, d.cfg.Lookahead)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to query due schedules")
		return
	}

	for _, schedule := range due {
		claimed, err := d.repo.ClaimSchedule(ctx, schedule.ID)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("schedule_id", schedule.ID.String()).Msg("failed to claim schedule")
			continue
		}
		if !claimed {
			continue
		}

		go func(schedule *entities.Schedule) {
			if err := d.execute(ctx, schedule); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("schedule_id", schedule.ID.String()).Msg("schedule execution failed")
			}
		}(schedule)
	}
}

// ExecuteNow claims and executes a single schedule on demand, ahead of its
// scheduled start.
func (d *Dispatcher) ExecuteNow(ctx context.Context, id uuid.UUID) error {
	schedule, err := d.repo.FindScheduleById(ctx, id)
	if err != nil {
		return err
	}

	claimed, err := d.repo.ClaimSchedule(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("%w: %s is %s", ErrScheduleNotPending, id, schedule.State)
	}

	return d.execute(ctx, schedule)
}

// execute resolves the schedule's recording, starts it, and arms the
// deferred stop when an end time is set. Failures move the schedule to
// FAILED and are not retried.
func (d *Dispatcher) execute(ctx context.Context, schedule *entities.Schedule) error {
	recording, err := d.resolveRecording(ctx, schedule)
	if err != nil {
		d.failSchedule(ctx, schedule.ID, err)
		return err
	}

	if err := d.recorder.Start(ctx, recording); err != nil {
		d.failSchedule(ctx, schedule.ID, err)
		return err
	}

	if err := d.repo.UpdateScheduleState(ctx, schedule.ID, constant.ScheduleStateActive, ""); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("schedule_id", schedule.ID.String()).Msg("failed to mark schedule active")
	}

	zerolog.Ctx(ctx).Info().
		Str("schedule_id", schedule.ID.String()).
		Str("recording_id", recording.ID.String()).
		Time("start_at", schedule.StartAt).
		Msg("schedule dispatched")

	if schedule.EndAt != nil {
		d.armStop(ctx, schedule.ID, recording.ID, *schedule.EndAt)
	}

	return nil
}

// resolveRecording reuses the schedule's recording when one is referenced,
// otherwise synthesizes one from the match. The schedule's recording_id is
// overwritten with the synthesized id.
func (d *Dispatcher) resolveRecording(ctx context.Context, schedule *entities.Schedule) (*entities.Recording, error) {
	if schedule.RecordingId != nil {
		return d.repo.FindRecordingById(ctx, *schedule.RecordingId)
	}

	if schedule.MatchId == nil {
		return nil, fmt.Errorf("schedule %s references neither a recording nor a match", schedule.ID)
	}

	match, err := d.repo.FindMatchById(ctx, *schedule.MatchId)
	if err != nil {
		return nil, fmt.Errorf("failed to load match for schedule %s: %w", schedule.ID, err)
	}

	setting, err := d.repo.GetSetting(ctx, SettingStreamURL)
	if err != nil {
		return nil, fmt.Errorf("no stream url configured: %w", err)
	}

	recording := &entities.Recording{
		ID:        uuid.New(),
		Title:     match.RecordingTitle(),
		SourceURL: setting.Value,
		State:     constant.RecordingStatePending,
		CreatedAt: d.now(),
	}
	if err := d.repo.CreateRecording(ctx, recording); err != nil {
		return nil, fmt.Errorf("failed to create recording for schedule %s: %w", schedule.ID, err)
	}
	if err := d.repo.SetScheduleRecording(ctx, schedule.ID, recording.ID); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("schedule_id", schedule.ID.String()).Msg("failed to link recording to schedule")
	}

	return recording, nil
}

func (d *Dispatcher) armStop(ctx context.Context, scheduleId, recordingId uuid.UUID, endAt time.Time) {
	delay := endAt.Sub(d.now())
	if delay < 0 {
		delay = 0
	}

	// ExecuteNow arms stops from a request context that ends with the
	// response; the timer must outlive the caller.
	ctx = context.WithoutCancel(ctx)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		<-timer.C

		if err := d.recorder.Stop(ctx, recordingId); err != nil && !errors.Is(err, ErrNotActive) {
			zerolog.Ctx(ctx).Error().Err(err).
				Str("schedule_id", scheduleId.String()).
				Str("recording_id", recordingId.String()).
				Msg("deferred stop failed")
		}
		if err := d.repo.UpdateScheduleState(ctx, scheduleId, constant.ScheduleStateCompleted, ""); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("schedule_id", scheduleId.String()).Msg("failed to complete schedule")
		}
	}()
}

// GenerateFromMatches creates a schedule for every upcoming auto-record
// match that has no open schedule yet, starting ahead of kickoff and ending
// after the typical match length. Both offsets are configuration.
func (d *Dispatcher) GenerateFromMatches(ctx context.Context) {
	now := d.now()
	matches, err := d.repo.FindUpcomingAutoRecordMatches(ctx, now, d.cfg.AutogenHorizon)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to query auto-record matches")
		return
	}

	for _, match := range matches {
		exists, err := d.repo.HasOpenScheduleForMatch(ctx, match.ID)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("match_id", match.ID.String()).Msg("failed to check existing schedules")
			continue
		}
		if exists {
			continue
		}

		matchId := match.ID
		endAt := match.KickoffAt.Add(d.cfg.KickoffTrail)
		schedule := &entities.Schedule{
			ID:            uuid.New(),
			MatchId:       &matchId,
			StartAt:       match.KickoffAt.Add(-d.cfg.KickoffLead),
			EndAt:         &endAt,
			State:         constant.ScheduleStatePending,
			AutoGenerated: true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := d.repo.CreateSchedule(ctx, schedule); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("match_id", match.ID.String()).Msg("failed to create auto schedule")
			continue
		}

		zerolog.Ctx(ctx).Info().
			Str("schedule_id", schedule.ID.String()).
			Str("match_id", match.ID.String()).
			Time("start_at", schedule.StartAt).
			Time("end_at", endAt).
			Msg("auto schedule created")
	}
}

func (d *Dispatcher) failSchedule(ctx context.Context, id uuid.UUID, cause error) {
	if err := d.repo.UpdateScheduleState(ctx, id, constant.ScheduleStateFailed, cause.Error()); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("schedule_id", id.String()).Msg("failed to mark schedule failed")
	}
}
