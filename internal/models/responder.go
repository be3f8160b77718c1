package models

import "time"

// Responder is a dispatchable unit such as an ambulance or patrol car.
type Responder struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	ResponderType string    `gorm:"size:16;not null;index" json:"responder_type"`
	Identifier    string    `gorm:"size:32;not null;uniqueIndex" json:"identifier"`
	Status        string    `gorm:"size:16;not null;default:AVAILABLE;index" json:"status"`
	LocationID    *string   `gorm:"size:36;index" json:"location_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Location *Location `gorm:"foreignKey:LocationID" json:"location,omitempty"`
}

// Location is a place: either a responder base or the scene of an incident
// reported during a call.
type Location struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Kind           string    `gorm:"size:16;not null;default:BASE;index" json:"kind"`
	Address        string    `gorm:"type:text" json:"address"`
	Landmark       string    `gorm:"size:256" json:"landmark"`
	GPSCoordinates string    `gorm:"column:gps_coordinates;size:64" json:"gps_coordinates"`
	City           string    `gorm:"size:128;index" json:"city"`
	District       string    `gorm:"size:128;index" json:"district"`
	CreatedAt      time.Time `json:"created_at"`
}
