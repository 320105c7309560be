package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"os"
	"path/filepath"
	"stream-recorder/config"
	"stream-recorder/constant"
	"stream-recorder/dto"
	"stream-recorder/entities"
	"stream-recorder/pkg/capture"
	"stream-recorder/registry"
	"stream-recorder/repository"
	"time"
)

var (
	ErrAlreadyActive   = errors.New("recording already active")
	ErrAlreadyTerminal = errors.New("recording already in a terminal state")
	ErrNotActive       = errors.New("recording not active")
)

type EventPublisher interface {
	PublishRecordingEvent(ctx context.Context, event dto.RecordingEvent) error
}

type Recorder interface {
	Start(ctx context.Context, recording *entities.Recording) error
	Stop(ctx context.Context, id uuid.UUID) error
	Active() []dto.ActiveRecording
}

type recorderService struct {
	repo     repository.Repository
	registry *registry.Registry
	uploader Uploader
	launch   capture.Launcher
	events   EventPublisher
	cfg      config.Recorder
	logger   zerolog.Logger
}

// NewRecorder builds the lifecycle manager. launch may be nil to use the
// real capture binary; events may be nil when no broker is configured.
func NewRecorder(
	repo repository.Repository,
	reg *registry.Registry,
	uploader Uploader,
	launch capture.Launcher,
	events EventPublisher,
	cfg config.Recorder,
) Recorder {
	if launch == nil {
		launch = capture.Start
	}
	return &recorderService{
		repo:     repo,
		registry: reg,
		uploader: uploader,
		launch:   launch,
		events:   events,
		cfg:      cfg,
		logger:   log.With().Str("component", "recorder").Logger(),
	}
}

// Start admits the recording through the registry, persists the transition
// to RECORDING, launches the capture process and returns. Completion is
// handled asynchronously by supervise.
func (s *recorderService) Start(ctx context.Context, recording *entities.Recording) error {
	// The persisted row decides admissibility, not the caller's copy.
	stored, err := s.repo.FindRecordingById(ctx, recording.ID)
	if err != nil {
		return err
	}
	if stored.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, recording.ID, stored.State)
	}

	now := time.Now()
	admitted := s.registry.TryInsert(registry.Entry{
		RecordingId: recording.ID,
		Title:       recording.Title,
		StartedAt:   now,
	})
	if !admitted {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, recording.ID)
	}

	outputPath, err := s.outputPath(recording, now)
	if err != nil {
		s.registry.Remove(recording.ID)
		s.failRecording(ctx, recording.ID, recording.Title, err)
		return err
	}

	if err := s.repo.UpdateRecordingFields(ctx, recording.ID, map[string]interface{}{
		"state":      constant.RecordingStateRecording,
		"started_at": now,
		"local_path": outputPath,
	}); err != nil {
		s.registry.Remove(recording.ID)
		return err
	}
	recording.State = constant.RecordingStateRecording
	recording.StartedAt = &now
	recording.LocalPath = &outputPath

	handle, err := s.launch(ctx, capture.Options{
		BinaryPath: s.cfg.FFmpegPath,
		SourceURL:  recording.SourceURL,
		OutputPath: outputPath,
		Quality:    recording.Quality,
		Format:     recording.Format,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("recording_id", recording.ID.String()).Msg("failed to launch capture")
		s.registry.Remove(recording.ID)
		s.failRecording(ctx, recording.ID, recording.Title, err)
		return err
	}
	if !s.registry.Bind(recording.ID, handle) {
		// A stop won the race between the reserve and the launch. End the
		// fresh process and restore the state the stop recorded.
		go handle.Stop(s.cfg.StopGrace)
		if err := s.repo.UpdateRecordingState(ctx, recording.ID, constant.RecordingStateStopped); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("recording_id", recording.ID.String()).Msg("failed to restore stopped state")
		}
		return nil
	}

	zerolog.Ctx(ctx).Info().
		Str("recording_id", recording.ID.String()).
		Str("title", recording.Title).
		Str("output_path", outputPath).
		Msg("recording started")
	s.publish(ctx, recording.ID, recording.Title, constant.RecordingStateRecording, "")

	go s.supervise(recording, handle)

	return nil
}

// Stop ends an active capture. The process is signalled to flush its output
// and killed after the grace period if it lingers.
func (s *recorderService) Stop(ctx context.Context, id uuid.UUID) error {
	return s.stop(ctx, id, "")
}

func (s *recorderService) stop(ctx context.Context, id uuid.UUID, reason string) error {
	entry, ok := s.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotActive, id)
	}

	fields := map[string]interface{}{
		"state":        constant.RecordingStateStopped,
		"completed_at": time.Now(),
	}
	if reason != "" {
		fields["last_error"] = reason
	}
	if err := s.repo.UpdateRecordingFields(ctx, id, fields); err != nil {
		return err
	}

	s.registry.Remove(id)
	if entry.Capture != nil {
		grace := s.cfg.StopGrace
		go entry.Capture.Stop(grace)
	}

	zerolog.Ctx(ctx).Info().
		Str("recording_id", id.String()).
		Str("reason", reason).
		Msg("recording stopped")
	s.publish(ctx, id, entry.Title, constant.RecordingStateStopped, reason)

	return nil
}

// Active returns the registry snapshot for the dashboard.
func (s *recorderService) Active() []dto.ActiveRecording {
	entries := s.registry.Snapshot()
	now := time.Now()
	out := make([]dto.ActiveRecording, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.ActiveRecording{
			RecordingId:    e.RecordingId,
			Title:          e.Title,
			StartedAt:      e.StartedAt,
			ElapsedSeconds: int(now.Sub(e.StartedAt).Seconds()),
		})
	}
	return out
}

// supervise owns the capture's completion channel. It also arms the duration
// watchdog; a capture that outlives the configured maximum is stopped with
// the same semantics as a manual stop, plus a recorded reason.
func (s *recorderService) supervise(recording *entities.Recording, handle capture.Handle) {
	ctx := s.logger.WithContext(context.Background())

	watchdog := time.NewTimer(s.cfg.MaxDuration)
	defer watchdog.Stop()

	var result capture.Result
	select {
	case result = <-handle.Done():
	case <-watchdog.C:
		zerolog.Ctx(ctx).Warn().
			Str("recording_id", recording.ID.String()).
			Dur("max_duration", s.cfg.MaxDuration).
			Msg("capture exceeded max duration")
		if err := s.stop(ctx, recording.ID, constant.StopReasonMaxDuration); err != nil && !errors.Is(err, ErrNotActive) {
			zerolog.Ctx(ctx).Error().Err(err).Str("recording_id", recording.ID.String()).Msg("watchdog stop failed")
		}
		result = <-handle.Done()
	}

	s.finish(ctx, recording, result)
}

// finish resolves the recording's terminal state. The registry entry is only
// released at the end, so the recording still counts as owning its local
// resources while the upload runs.
func (s *recorderService) finish(ctx context.Context, recording *entities.Recording, result capture.Result) {
	defer s.registry.Remove(recording.ID)

	if fresh, err := s.repo.FindRecordingById(ctx, recording.ID); err == nil && fresh.State == constant.RecordingStateStopped {
		// Stopped by request or watchdog. The file stays on disk, but record
		// what the capture managed to produce.
		s.recordFileStats(ctx, recording.ID, result.Path)
		return
	}

	if result.Err != nil {
		zerolog.Ctx(ctx).Error().Err(result.Err).
			Str("recording_id", recording.ID.String()).
			Msg("capture failed")
		s.failRecording(ctx, recording.ID, recording.Title, result.Err)
		return
	}

	duration := capture.ProbeDuration(s.cfg.FFprobePath, result.Path)
	var size int64
	if info, err := os.Stat(result.Path); err == nil {
		size = info.Size()
	}

	upload := s.uploader.Upload(ctx, recording, result.Path)
	now := time.Now()

	if upload.Err != nil {
		if err := s.repo.UpdateRecordingFields(ctx, recording.ID, map[string]interface{}{
			"state":            constant.RecordingStateFailed,
			"last_error":       upload.Err.Error(),
			"completed_at":     now,
			"duration_seconds": duration,
			"size_bytes":       size,
		}); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("recording_id", recording.ID.String()).Msg("failed to persist upload failure")
		}
		s.publish(ctx, recording.ID, recording.Title, constant.RecordingStateFailed, upload.Err.Error())
		return
	}

	if upload.Size > 0 {
		size = upload.Size
	}
	if err := s.repo.UpdateRecordingFields(ctx, recording.ID, map[string]interface{}{
		"state":            constant.RecordingStateCompleted,
		"storage_key":      upload.Key,
		"local_path":       nil,
		"size_bytes":       size,
		"duration_seconds": duration,
		"completed_at":     now,
	}); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("recording_id", recording.ID.String()).Msg("failed to persist completion")
	}

	zerolog.Ctx(ctx).Info().
		Str("recording_id", recording.ID.String()).
		Str("storage_key", upload.Key).
		Int("duration_seconds", duration).
		Int64("size_bytes", size).
		Msg("recording completed")
	s.publish(ctx, recording.ID, recording.Title, constant.RecordingStateCompleted, "")
}

func (s *recorderService) failRecording(ctx context.Context, id uuid.UUID, title string, cause error) {
	if err := s.repo.UpdateRecordingFields(ctx, id, map[string]interface{}{
		"state":        constant.RecordingStateFailed,
		"last_error":   cause.Error(),
		"completed_at": time.Now(),
	}); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("recording_id", id.String()).Msg("failed to persist recording failure")
	}
	s.publish(ctx, id, title, constant.RecordingStateFailed, cause.Error())
}

func (s *recorderService) recordFileStats(ctx context.Context, id uuid.UUID, path string) {
	fields := map[string]interface{}{}
	if duration := capture.ProbeDuration(s.cfg.FFprobePath, path); duration > 0 {
		fields["duration_seconds"] = duration
	}
	if info, err := os.Stat(path); err == nil {
		fields["size_bytes"] = info.Size()
	}
	if len(fields) == 0 {
		return
	}
	if err := s.repo.UpdateRecordingFields(ctx, id, fields); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("recording_id", id.String()).Msg("failed to record file stats")
	}
}

// outputPath partitions the local namespace per recording id so concurrent
// captures never collide.
func (s *recorderService) outputPath(recording *entities.Recording, now time.Time) (string, error) {
	ext := recording.Format
	if ext == "" {
		ext = "mp4"
	}
	dir := filepath.Join(s.cfg.OutputDir, recording.ID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return filepath.Join(dir, fmt.Sprintf("%s.%s", now.UTC().Format("20060102-150405"), ext)), nil
}

func (s *recorderService) publish(ctx context.Context, id uuid.UUID, title string, state constant.RecordingState, errMsg string) {
	if s.events == nil {
		return
	}
	event := dto.RecordingEvent{
		RecordingId: id,
		Title:       title,
		State:       state.String(),
		Error:       errMsg,
		At:          time.Now(),
	}
	if err := s.events.PublishRecordingEvent(ctx, event); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("recording_id", id.String()).Msg("failed to publish recording event")
	}
}
