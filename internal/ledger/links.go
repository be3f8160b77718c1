package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zulandar/lifeline/internal/db"
	"github.com/zulandar/lifeline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// linkCaller upserts the Caller for phone and returns its id. Name and
// language are only overwritten when supplied.
func (l *Ledger) linkCaller(tx *gorm.DB, phone string, name, language *string) (string, error) {
	now := l.now()
	c := models.Caller{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		Name:        name,
		Language:    language,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	updates := []string{"updated_at"}
	if name != nil {
		updates = append(updates, "name")
	}
	if language != nil {
		updates = append(updates, "language")
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone_number"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&c).Error
	if err != nil {
		return "", fmt.Errorf("ledger: upsert caller: %w", err)
	}

	var stored models.Caller
	if err := tx.Select("id").Where("phone_number = ?", phone).First(&stored).Error; err != nil {
		return "", fmt.Errorf("ledger: load caller: %w", err)
	}
	return stored.ID, nil
}

// syncLocation copies the session's location columns onto its incident
// Location, creating one when the session has none yet. Responder bases are
// never written. Returns the incident location id.
func (l *Ledger) syncLocation(tx *gorm.DB, sessionID string) (string, error) {
	var s models.Session
	err := tx.Select("id", "address", "landmark", "gps_coordinates", "city", "district", "location_id").
		Where("id = ?", sessionID).
		First(&s).Error
	if err != nil {
		return "", fmt.Errorf("ledger: load session location: %w", err)
	}

	cols := map[string]interface{}{
		"address":         deref(s.Address),
		"landmark":        deref(s.Landmark),
		"gps_coordinates": deref(s.GPSCoordinates),
		"city":            deref(s.City),
		"district":        deref(s.District),
	}

	if s.LocationID != nil {
		var existing []models.Location
		err := tx.Select("id").
			Where("id = ? AND kind = ?", *s.LocationID, models.LocationIncident).
			Limit(1).
			Find(&existing).Error
		if err != nil {
			return "", fmt.Errorf("ledger: load incident location: %w", err)
		}
		if len(existing) == 1 {
			if err := tx.Model(&models.Location{}).Where("id = ?", *s.LocationID).Updates(cols).Error; err != nil {
				return "", fmt.Errorf("ledger: update incident location: %w", err)
			}
			return *s.LocationID, nil
		}
	}

	loc := models.Location{
		ID:             uuid.NewString(),
		Kind:           models.LocationIncident,
		Address:        deref(s.Address),
		Landmark:       deref(s.Landmark),
		GPSCoordinates: deref(s.GPSCoordinates),
		City:           deref(s.City),
		District:       deref(s.District),
		CreatedAt:      l.now(),
	}
	if err := tx.Create(&loc).Error; err != nil {
		return "", fmt.Errorf("ledger: create incident location: %w", err)
	}
	if err := tx.Model(&models.Session{}).Where("id = ?", sessionID).Update("location_id", loc.ID).Error; err != nil {
		return "", fmt.Errorf("ledger: link incident location: %w", err)
	}
	return loc.ID, nil
}

// callerPhone returns the supplied phone number, or "" when none was given.
func (f Fields) callerPhone() string {
	if f.CallerPhone == nil {
		return ""
	}
	return strings.TrimSpace(*f.CallerPhone)
}

// hasLocation reports whether any location detail was supplied.
func (f Fields) hasLocation() bool {
	for _, v := range []*string{f.Address, f.Landmark, f.GPSCoordinates, f.City, f.District} {
		if v != nil && strings.TrimSpace(*v) != "" {
			return true
		}
	}
	return false
}

// ErrCallerNotFound is returned when a caller id does not exist.
var ErrCallerNotFound = errors.New("ledger: caller not found")

// Callers returns known callers, most recently heard from first.
func (l *Ledger) Callers(ctx context.Context, limit int) ([]models.Caller, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.Query(ctx, l.gw, "ledger.list_callers", func(tx *gorm.DB) ([]models.Caller, error) {
		var callers []models.Caller
		err := tx.Order("updated_at DESC").Limit(limit).Find(&callers).Error
		return callers, err
	})
}

// Caller loads a caller with their sessions, newest first.
func (l *Ledger) Caller(ctx context.Context, id string) (*models.Caller, error) {
	return db.Query(ctx, l.gw, "ledger.get_caller", func(tx *gorm.DB) (*models.Caller, error) {
		var c models.Caller
		err := tx.
			Preload("Sessions", func(q *gorm.DB) *gorm.DB { return q.Order("created_at DESC") }).
			Where("id = ?", id).
			First(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCallerNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		return &c, nil
	})
}

// Locations returns locations of the given kind, or every location when kind
// is empty, ordered by district.
func (l *Ledger) Locations(ctx context.Context, kind string) ([]models.Location, error) {
	return db.Query(ctx, l.gw, "ledger.list_locations", func(tx *gorm.DB) ([]models.Location, error) {
		q := tx.Model(&models.Location{})
		if kind != "" {
			q = q.Where("kind = ?", strings.ToUpper(kind))
		}
		var locations []models.Location
		err := q.Order("district ASC, created_at ASC").Find(&locations).Error
		return locations, err
	})
}
