package entities

import (
	"github.com/google/uuid"
	"stream-recorder/constant"
	"time"
)

type Schedule struct {
	ID            uuid.UUID              `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	MatchId       *uuid.UUID             `json:"match_id" gorm:"type:uuid;index:idx_schedules_match_id"`
	RecordingId   *uuid.UUID             `json:"recording_id" gorm:"type:uuid"`
	StartAt       time.Time              `json:"start_at" gorm:"type:timestamptz;not null;index:idx_schedules_start_at"`
	EndAt         *time.Time             `json:"end_at" gorm:"type:timestamptz"`
	State         constant.ScheduleState `json:"state" gorm:"type:varchar(20);not null;default:'PENDING';index:idx_schedules_state"`
	AutoGenerated bool                   `json:"auto_generated" gorm:"not null;default:false"`
	LastError     *string                `json:"last_error" gorm:"type:text"`
	CreatedAt     time.Time              `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time              `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Schedule) TableName() string {
	return "schedules"
}
