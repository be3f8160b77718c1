package db

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/zulandar/lifeline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every model managed by lifeline, in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&models.Location{},
		&models.Caller{},
		&models.Responder{},
		&models.Session{},
		&models.TranscriptEntry{},
		&models.Dispatch{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedLocation describes one responder base.
type SeedLocation struct {
	District       string
	GPSCoordinates string
}

// SeedUnits maps responder type to the call signs seeded for it.
type SeedUnits struct {
	Type        string
	Identifiers []string
}

// DefaultLocations are the district bases created by `lifeline db seed`.
var DefaultLocations = []SeedLocation{
	{District: "Chennai", GPSCoordinates: "13.0827,80.2707"},
	{District: "Coimbatore", GPSCoordinates: "11.0168,76.9558"},
	{District: "Madurai", GPSCoordinates: "9.9252,78.1198"},
	{District: "Salem", GPSCoordinates: "11.6643,78.1460"},
	{District: "Trichy", GPSCoordinates: "10.7905,78.7047"},
}

// DefaultUnits are the responders created by `lifeline db seed`.
var DefaultUnits = []SeedUnits{
	{Type: models.ResponderAmbulance, Identifiers: []string{"AMB-001", "AMB-002", "AMB-003", "AMB-004", "AMB-005"}},
	{Type: models.ResponderPolice, Identifiers: []string{"POL-101", "POL-102", "POL-103", "POL-104", "POL-105"}},
	{Type: models.ResponderFire, Identifiers: []string{"FIRE-201", "FIRE-202", "FIRE-203"}},
	{Type: models.ResponderOther, Identifiers: []string{"OTHER-301", "OTHER-302"}},
}

// seedID derives a stable id so reseeding hits the same rows.
func seedID(kind, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("lifeline:"+kind+":"+key)).String()
}

// SeedResponders upserts the given locations and responders. Units are
// assigned to locations round-robin. Existing responders keep their current
// status. Returns the total number of responders afterwards.
func SeedResponders(db *gorm.DB, locations []SeedLocation, units []SeedUnits) (int64, error) {
	if len(locations) == 0 {
		return 0, fmt.Errorf("db: seed responders: at least one location is required")
	}

	locIDs := make([]string, 0, len(locations))
	for _, sl := range locations {
		loc := models.Location{
			ID:             seedID("location", sl.District),
			Kind:           models.LocationBase,
			Address:        sl.District + " District Center",
			Landmark:       sl.District + " Main Road",
			GPSCoordinates: sl.GPSCoordinates,
			City:           sl.District,
			District:       sl.District,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "address", "landmark", "gps_coordinates", "city", "district"}),
		}).Create(&loc)
		if result.Error != nil {
			return 0, fmt.Errorf("db: seed location %q: %w", sl.District, result.Error)
		}
		locIDs = append(locIDs, loc.ID)
	}

	n := 0
	for _, u := range units {
		for _, ident := range u.Identifiers {
			locID := locIDs[n%len(locIDs)]
			n++
			r := models.Responder{
				ID:            seedID("responder", ident),
				ResponderType: u.Type,
				Identifier:    ident,
				Status:        models.ResponderAvailable,
				LocationID:    &locID,
			}
			result := db.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "identifier"}},
				DoUpdates: clause.AssignmentColumns([]string{"responder_type", "location_id"}),
			}).Create(&r)
			if result.Error != nil {
				return 0, fmt.Errorf("db: seed responder %q: %w", ident, result.Error)
			}
		}
	}

	var count int64
	if err := db.Model(&models.Responder{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("db: count responders: %w", err)
	}
	return count, nil
}
