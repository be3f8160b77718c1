package dispatch

import (
	"context"
	"strings"

	"github.com/zulandar/lifeline/internal/db"
	"github.com/zulandar/lifeline/internal/models"
	"gorm.io/gorm"
)

// ListFilters narrows List. Empty fields match everything.
type ListFilters struct {
	SessionID string
	Status    string
	Limit     int
}

// openStatuses are dispatches still in progress.
var openStatuses = []string{models.DispatchPending, models.DispatchEnRoute, models.DispatchArrived}

// List returns dispatches matching filters with their responders, newest
// first.
func (c *Coordinator) List(ctx context.Context, filters ListFilters) ([]models.Dispatch, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	return db.Query(ctx, c.gw, "dispatch.list", func(tx *gorm.DB) ([]models.Dispatch, error) {
		q := tx.Preload("Responder")
		if filters.SessionID != "" {
			q = q.Where("session_id = ?", filters.SessionID)
		}
		if filters.Status != "" {
			q = q.Where("status = ?", strings.ToUpper(filters.Status))
		}
		var out []models.Dispatch
		err := q.Order("dispatched_at DESC").Limit(limit).Find(&out).Error
		return out, err
	})
}

// Active returns dispatches that are PENDING, EN_ROUTE or ARRIVED.
func (c *Coordinator) Active(ctx context.Context) ([]models.Dispatch, error) {
	return db.Query(ctx, c.gw, "dispatch.active", func(tx *gorm.DB) ([]models.Dispatch, error) {
		var out []models.Dispatch
		err := tx.Preload("Responder").
			Where("status IN ?", openStatuses).
			Order("dispatched_at DESC").
			Find(&out).Error
		return out, err
	})
}

// AvailableResponders returns AVAILABLE responders with their base, ordered
// by call sign. An empty responderType matches every type.
func (c *Coordinator) AvailableResponders(ctx context.Context, responderType string) ([]models.Responder, error) {
	return db.Query(ctx, c.gw, "dispatch.available_responders", func(tx *gorm.DB) ([]models.Responder, error) {
		q := tx.Preload("Location").Where("status = ?", models.ResponderAvailable)
		if responderType != "" {
			q = q.Where("responder_type = ?", strings.ToUpper(responderType))
		}
		var out []models.Responder
		err := q.Order("identifier ASC").Find(&out).Error
		return out, err
	})
}
