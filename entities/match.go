package entities

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

// Match rows are synchronized by the fixture importer; the recorder
// only reads kickoff times and the auto-record flag.
type Match struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	HomeTeam    string    `json:"home_team" gorm:"type:varchar(255);not null"`
	AwayTeam    string    `json:"away_team" gorm:"type:varchar(255);not null"`
	Competition string    `json:"competition" gorm:"type:varchar(255)"`
	KickoffAt   time.Time `json:"kickoff_at" gorm:"type:timestamptz;not null;index:idx_matches_kickoff_at"`
	AutoRecord  bool      `json:"auto_record" gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Match) TableName() string {
	return "matches"
}

func (m Match) RecordingTitle() string {
	return fmt.Sprintf("%s vs %s", m.HomeTeam, m.AwayTeam)
}
