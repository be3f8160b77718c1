package models

import "time"

// Dispatch assigns a responder to a session.
type Dispatch struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	SessionID    string     `gorm:"size:36;not null;index" json:"session_id"`
	ResponderID  *string    `gorm:"size:36;index" json:"responder_id"`
	Status       string     `gorm:"size:16;not null;default:PENDING;index" json:"status"`
	ArrivalTime  *time.Time `json:"arrival_time"`
	Notes        *string    `gorm:"type:text" json:"notes"`
	DispatchedAt time.Time  `gorm:"autoCreateTime" json:"dispatched_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Responder *Responder `gorm:"foreignKey:ResponderID" json:"responder,omitempty"`
}
