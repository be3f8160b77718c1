package models

import "time"

// Session is one emergency incident tied to a single call. Optional attributes
// are pointers so an unset column stays NULL instead of an empty string.
type Session struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	EmergencyType  *string   `gorm:"size:16;index" json:"emergency_type"`
	Description    *string   `gorm:"type:text" json:"description"`
	CallerPhone    *string   `gorm:"size:32;index" json:"caller_phone"`
	CallerName     *string   `gorm:"size:128" json:"caller_name"`
	Language       string    `gorm:"size:32;not null" json:"language"`
	Address        *string   `gorm:"type:text" json:"address"`
	Landmark       *string   `gorm:"size:256" json:"landmark"`
	GPSCoordinates *string   `gorm:"column:gps_coordinates;size:64" json:"gps_coordinates"`
	City           *string   `gorm:"size:128;index" json:"city"`
	District       *string   `gorm:"size:128;index" json:"district"`
	PriorityLevel  int       `gorm:"not null;default:3" json:"priority_level"`
	Notes          *string   `gorm:"type:text" json:"notes"`
	Status         *string   `gorm:"size:32;index" json:"status"`
	SupersedesID   *string   `gorm:"size:36;index" json:"supersedes_id,omitempty"`
	CallerID       *string   `gorm:"size:36;index" json:"caller_id"`
	LocationID     *string   `gorm:"size:36;index" json:"location_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Caller     *Caller           `gorm:"foreignKey:CallerID" json:"caller,omitempty"`
	Location   *Location         `gorm:"foreignKey:LocationID" json:"location,omitempty"`
	Transcript []TranscriptEntry `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"transcript,omitempty"`
	Dispatches []Dispatch        `gorm:"foreignKey:SessionID" json:"dispatches,omitempty"`
}

// Caller is a person who has phoned in, keyed by phone number. Repeat calls
// from the same number share one Caller.
type Caller struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	PhoneNumber string    `gorm:"size:32;not null;uniqueIndex" json:"phone_number"`
	Name        *string   `gorm:"size:128" json:"name"`
	Language    *string   `gorm:"size:32" json:"language"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Sessions []Session `gorm:"foreignKey:CallerID" json:"sessions,omitempty"`
}

// TranscriptEntry is one utterance logged against a session. Entries are
// append-only; Sequence orders them within their session and is unique there.
type TranscriptEntry struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID   string    `gorm:"size:36;not null;uniqueIndex:idx_transcript_session_seq,priority:1" json:"session_id"`
	Sequence    int       `gorm:"not null;uniqueIndex:idx_transcript_session_seq,priority:2" json:"sequence"`
	SpeakerType string    `gorm:"size:8;not null" json:"speaker_type"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Timestamp   time.Time `gorm:"not null;index" json:"timestamp"`
}
