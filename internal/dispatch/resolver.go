package dispatch

import (
	"context"
	"strings"

	"github.com/zulandar/lifeline/internal/db"
	"github.com/zulandar/lifeline/internal/models"
	"gorm.io/gorm"
)

// Resolver picks a responder for an emergency when the caller did not name
// one. It returns at most one responder id, or "" when none fits.
type Resolver interface {
	Resolve(ctx context.Context, emergencyType, locationID string) (string, error)
}

// responderTypes maps emergency types to the responder type sent to them.
// OTHER has no default responder.
var responderTypes = map[string]string{
	models.EmergencyMedical: models.ResponderAmbulance,
	models.EmergencyPolice:  models.ResponderPolice,
	models.EmergencyFire:    models.ResponderFire,
}

// ResponderTypeFor returns the responder type for an emergency type.
func ResponderTypeFor(emergencyType string) (string, bool) {
	rt, ok := responderTypes[strings.ToUpper(strings.TrimSpace(emergencyType))]
	return rt, ok
}

// StoreResolver resolves from the responders table: the first AVAILABLE
// responder of the matching type, by call sign. A responder base location
// restricts the search to that base. An incident location prefers bases in
// the same district, then the same city, then any base. An unknown location
// matches nothing.
type StoreResolver struct {
	gw *db.Gateway
}

// NewStoreResolver creates a StoreResolver.
func NewStoreResolver(gw *db.Gateway) *StoreResolver {
	return &StoreResolver{gw: gw}
}

// Resolve implements Resolver.
func (r *StoreResolver) Resolve(ctx context.Context, emergencyType, locationID string) (string, error) {
	rt, ok := ResponderTypeFor(emergencyType)
	if !ok {
		return "", nil
	}
	return db.Query(ctx, r.gw, "dispatch.resolve_responder", func(tx *gorm.DB) (string, error) {
		available := func() *gorm.DB {
			return tx.Model(&models.Responder{}).
				Where("responder_type = ? AND status = ?", rt, models.ResponderAvailable)
		}
		if locationID == "" {
			return firstResponder(available())
		}

		var locs []models.Location
		if err := tx.Where("id = ?", locationID).Limit(1).Find(&locs).Error; err != nil {
			return "", err
		}
		if len(locs) == 0 {
			return "", nil
		}
		loc := locs[0]
		if loc.Kind != models.LocationIncident {
			return firstResponder(available().Where("location_id = ?", loc.ID))
		}

		for _, near := range []struct{ column, value string }{
			{"district", loc.District},
			{"city", loc.City},
		} {
			if strings.TrimSpace(near.value) == "" {
				continue
			}
			bases := tx.Model(&models.Location{}).Select("id").
				Where("kind = ? AND LOWER("+near.column+") = LOWER(?)", models.LocationBase, strings.TrimSpace(near.value))
			id, err := firstResponder(available().Where("location_id IN (?)", bases))
			if err != nil || id != "" {
				return id, err
			}
		}
		return firstResponder(available())
	})
}

func firstResponder(q *gorm.DB) (string, error) {
	var found []models.Responder
	if err := q.Order("identifier ASC").Limit(1).Find(&found).Error; err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", nil
	}
	return found[0].ID, nil
}
