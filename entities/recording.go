package entities

import (
	"github.com/google/uuid"
	"stream-recorder/constant"
	"time"
)

type Recording struct {
	ID              uuid.UUID               `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Title           string                  `json:"title" gorm:"type:varchar(255);not null"`
	SourceURL       string                  `json:"source_url" gorm:"type:text;not null"`
	Quality         string                  `json:"quality" gorm:"type:varchar(50)"`
	Format          string                  `json:"format" gorm:"type:varchar(20)"`
	State           constant.RecordingState `json:"state" gorm:"type:varchar(20);not null;default:'PENDING';index:idx_recordings_state"`
	LocalPath       *string                 `json:"local_path" gorm:"type:varchar(500)"`
	StorageKey      *string                 `json:"storage_key" gorm:"type:varchar(500)"`
	SizeBytes       int64                   `json:"size_bytes" gorm:"type:bigint;default:0"`
	DurationSeconds int                     `json:"duration_seconds" gorm:"type:integer;default:0"`
	LastError       *string                 `json:"last_error" gorm:"type:text"`
	CreatedAt       time.Time               `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	StartedAt       *time.Time              `json:"started_at" gorm:"type:timestamptz"`
	CompletedAt     *time.Time              `json:"completed_at" gorm:"type:timestamptz"`
}

func (Recording) TableName() string {
	return "recordings"
}
