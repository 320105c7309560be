package entities

import "time"

type Setting struct {
	Key       string    `json:"key" gorm:"type:varchar(100);primary_key"`
	Value     string    `json:"value" gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Setting) TableName() string {
	return "settings"
}
