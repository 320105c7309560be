package dto

import (
	"github.com/google/uuid"
	"time"
)

type StartRecordingRequest struct {
	Title     string `json:"title" binding:"required"`
	SourceURL string `json:"source_url" binding:"required"`
	Quality   string `json:"quality"`
	Format    string `json:"format"`
}

type CreateScheduleRequest struct {
	MatchId     *uuid.UUID `json:"match_id"`
	RecordingId *uuid.UUID `json:"recording_id"`
	StartAt     time.Time  `json:"start_at" binding:"required"`
	EndAt       *time.Time `json:"end_at"`
}

// ActiveRecording is one row of the registry snapshot shown on the dashboard.
type ActiveRecording struct {
	RecordingId    uuid.UUID `json:"recording_id"`
	Title          string    `json:"title"`
	StartedAt      time.Time `json:"started_at"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
}

type PlaybackResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SettingRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value" binding:"required"`
}

// RecordingEvent is published to the broker on every lifecycle transition.
type RecordingEvent struct {
	RecordingId uuid.UUID `json:"recordingId"`
	Title       string    `json:"title"`
	State       string    `json:"state"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}
