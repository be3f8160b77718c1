// Package dispatch assigns responders to emergency sessions and tracks each
// dispatch through its status lifecycle.
package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/lifeline/internal/db"
	"github.com/zulandar/lifeline/internal/logging"
	"github.com/zulandar/lifeline/internal/models"
	"github.com/zulandar/lifeline/internal/notify"
	"gorm.io/gorm"
)

var (
	// ErrNoSession is returned when neither the request nor the
	// conversation names a session.
	ErrNoSession = errors.New("no active emergency session")
	// ErrSessionNotFound is returned when the session does not exist.
	ErrSessionNotFound = errors.New("dispatch: session not found")
	// ErrDispatchNotFound is returned when updating an unknown dispatch.
	ErrDispatchNotFound = errors.New("dispatch: not found")
	// ErrResponderNotFound is returned when a named responder does not exist.
	ErrResponderNotFound = errors.New("dispatch: responder not found")
	// ErrInvalidTransition is returned for a status change ValidTransitions
	// does not allow.
	ErrInvalidTransition = errors.New("dispatch: invalid status transition")
)

// Request is a dispatch tool call. Nil fields were not supplied. When
// DispatchID is set the existing dispatch is updated; otherwise a new one is
// created.
type Request struct {
	SessionID     *string `json:"session_id"`
	DispatchID    *string `json:"dispatch_id"`
	ResponderID   *string `json:"responder_id"`
	EmergencyType *string `json:"emergency_type"`
	LocationID    *string `json:"location_id"`
	Notes         *string `json:"notes"`
	Status        *string `json:"status"`
	ArrivalTime   *string `json:"arrival_time"`
}

// Result is the outcome of a dispatch, shaped for the conversational model.
type Result struct {
	Success     bool   `json:"success"`
	DispatchID  string `json:"dispatch_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	ResponderID string `json:"responder_id,omitempty"`
	Status      string `json:"status,omitempty"`
	ArrivalTime string `json:"arrival_time,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Opts holds parameters for New.
type Opts struct {
	Gateway   *db.Gateway
	Resolver  Resolver         // defaults to a StoreResolver on Gateway
	Publisher notify.Publisher // defaults to notify.Nop
	Logger    logrus.FieldLogger
	Now       func() time.Time
}

// Coordinator validates and persists dispatches.
type Coordinator struct {
	gw       *db.Gateway
	resolver Resolver
	pub      notify.Publisher
	log      logrus.FieldLogger
	now      func() time.Time
}

// New creates a Coordinator.
func New(opts Opts) (*Coordinator, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("dispatch: gateway is required")
	}
	if opts.Resolver == nil {
		opts.Resolver = NewStoreResolver(opts.Gateway)
	}
	if opts.Publisher == nil {
		opts.Publisher = notify.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		gw:       opts.Gateway,
		resolver: opts.Resolver,
		pub:      opts.Publisher,
		log:      logging.OrDiscard(opts.Logger).WithField("component", "dispatch"),
		now:      opts.Now,
	}, nil
}

// GenerateID creates a dispatch ID in dsp-xxxxxxxx format (8-char hex).
func GenerateID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("dispatch: generate ID: %w", err)
	}
	return "dsp-" + hex.EncodeToString(b), nil
}

// Dispatch creates or updates a dispatch. current is the conversation's
// session, used when the request names none. Failures are reported in the
// Result, never returned.
func (c *Coordinator) Dispatch(ctx context.Context, current string, req Request) Result {
	if id := trimmed(req.DispatchID); id != "" {
		return c.update(ctx, id, req)
	}
	return c.create(ctx, current, req)
}

func (c *Coordinator) create(ctx context.Context, current string, req Request) Result {
	sessionID := trimmed(req.SessionID)
	if sessionID == "" {
		sessionID = current
	}
	if sessionID == "" {
		c.log.Warn("dispatch: no session for dispatch")
		return Result{Success: false, Error: ErrNoSession.Error()}
	}
	log := c.log.WithField("session_id", sessionID)

	status := models.DispatchPending
	if s := trimmed(req.Status); s != "" {
		status = strings.ToUpper(s)
		if !IsStatus(status) {
			log.WithField("status", status).Warn("dispatch: unrecognised status")
		}
	}
	arrival := c.arrivalFor(log, req.ArrivalTime, status)

	responderID := trimmed(req.ResponderID)
	if responderID == "" {
		if et := trimmed(req.EmergencyType); et != "" {
			locationID := trimmed(req.LocationID)
			if locationID == "" {
				locationID = c.sessionLocation(ctx, log, sessionID)
			}
			responderID = c.resolve(ctx, log, et, locationID)
		}
	}

	d := models.Dispatch{
		SessionID: sessionID,
		Status:    status,
		Notes:     req.Notes,
	}
	if responderID != "" {
		d.ResponderID = &responderID
	}
	if arrival != nil {
		d.ArrivalTime = arrival
	}

	err := c.gw.Run(ctx, "dispatch.create", func(tx *gorm.DB) error {
		if err := requireSession(tx, sessionID); err != nil {
			return err
		}
		if d.ResponderID != nil {
			if err := requireResponder(tx, *d.ResponderID); err != nil {
				return err
			}
		}
		id, err := generateUniqueID(tx)
		if err != nil {
			return err
		}
		d.ID = id
		now := c.now()
		d.DispatchedAt = now
		d.UpdatedAt = now
		if err := tx.Create(&d).Error; err != nil {
			return fmt.Errorf("dispatch: insert: %w", err)
		}
		if err := tx.Model(&models.Session{}).Where("id = ?", sessionID).
			Update("status", models.SessionDispatched).Error; err != nil {
			return fmt.Errorf("dispatch: mark session dispatched: %w", err)
		}
		return syncResponder(tx, d.ResponderID, status)
	})
	if err != nil {
		log.WithError(err).Error("dispatch: create failed")
		return Result{Success: false, Error: err.Error()}
	}

	log.WithFields(logrus.Fields{
		"dispatch_id":  d.ID,
		"responder_id": deref(d.ResponderID),
		"status":       d.Status,
	}).Info("dispatch: created")
	c.publish(ctx, notify.DispatchCreated, d)
	return c.result(d)
}

func (c *Coordinator) update(ctx context.Context, dispatchID string, req Request) Result {
	log := c.log.WithField("dispatch_id", dispatchID)
	explicitSession := trimmed(req.SessionID)

	var d models.Dispatch
	err := c.gw.Run(ctx, "dispatch.update", func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", dispatchID).First(&d).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrDispatchNotFound, dispatchID)
			}
			return err
		}
		if explicitSession != "" && explicitSession != d.SessionID {
			return fmt.Errorf("dispatch: %s belongs to session %s, not %s", dispatchID, d.SessionID, explicitSession)
		}

		from := d.Status
		to := from
		if s := trimmed(req.Status); s != "" {
			to = strings.ToUpper(s)
		}
		if !isValidTransition(from, to) {
			return fmt.Errorf("%w from %q to %q; valid transitions: %v", ErrInvalidTransition, from, to, ValidTransitions[from])
		}

		cols := make(map[string]interface{})
		if to != from {
			cols["status"] = to
		}
		if arrival := c.arrivalFor(log, req.ArrivalTime, to); arrival != nil {
			cols["arrival_time"] = *arrival
		}
		if req.Notes != nil {
			cols["notes"] = *req.Notes
		}
		if rid := trimmed(req.ResponderID); rid != "" && rid != deref(d.ResponderID) {
			if err := requireResponder(tx, rid); err != nil {
				return err
			}
			if d.ResponderID != nil {
				if err := syncResponder(tx, d.ResponderID, models.DispatchCancelled); err != nil {
					return err
				}
			}
			cols["responder_id"] = rid
		}
		if len(cols) == 0 {
			return nil
		}
		cols["updated_at"] = c.now()

		if err := tx.Model(&models.Dispatch{}).Where("id = ?", dispatchID).Updates(cols).Error; err != nil {
			return fmt.Errorf("dispatch: update %s: %w", dispatchID, err)
		}
		if err := tx.Where("id = ?", dispatchID).First(&d).Error; err != nil {
			return fmt.Errorf("dispatch: reload %s: %w", dispatchID, err)
		}
		if _, changed := cols["status"]; changed || cols["responder_id"] != nil {
			return syncResponder(tx, d.ResponderID, d.Status)
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("dispatch: update failed")
		return Result{Success: false, Error: err.Error()}
	}

	log.WithFields(logrus.Fields{
		"session_id": d.SessionID,
		"status":     d.Status,
	}).Info("dispatch: updated")
	c.publish(ctx, notify.DispatchUpdated, d)
	return c.result(d)
}

// arrivalFor parses raw and returns it only when the dispatch is moving to,
// or staying in, ARRIVED. Anything else is dropped with a warning.
func (c *Coordinator) arrivalFor(log logrus.FieldLogger, raw *string, status string) *time.Time {
	s := trimmed(raw)
	if s == "" {
		return nil
	}
	t, err := parseArrivalTime(s)
	if err != nil {
		log.WithError(err).Warn("dispatch: ignoring malformed arrival_time")
		return nil
	}
	if status != models.DispatchArrived {
		log.WithFields(logrus.Fields{
			"arrival_time": s,
			"status":       status,
		}).Warn("dispatch: arrival_time only applies to ARRIVED, ignoring")
		return nil
	}
	return &t
}

// resolve asks the resolver for a responder. Resolver failures are logged
// and treated as "none found".
func (c *Coordinator) resolve(ctx context.Context, log logrus.FieldLogger, emergencyType, locationID string) string {
	id, err := c.resolver.Resolve(ctx, emergencyType, locationID)
	if err != nil {
		log.WithError(err).Warn("dispatch: responder lookup failed, dispatching without responder")
		return ""
	}
	if id == "" {
		log.WithFields(logrus.Fields{
			"emergency_type": emergencyType,
			"location_id":    locationID,
		}).Warn("dispatch: no available responder, dispatching without responder")
	}
	return id
}

func (c *Coordinator) publish(ctx context.Context, typ string, d models.Dispatch) {
	ev := notify.Event{
		Type:        typ,
		DispatchID:  d.ID,
		SessionID:   d.SessionID,
		ResponderID: deref(d.ResponderID),
		Status:      d.Status,
		Timestamp:   c.now().UTC(),
	}
	if err := c.pub.Publish(ctx, ev); err != nil {
		c.log.WithField("dispatch_id", d.ID).WithError(err).Warn("dispatch: publish event failed")
	}
}

func (c *Coordinator) result(d models.Dispatch) Result {
	r := Result{
		Success:     true,
		DispatchID:  d.ID,
		SessionID:   d.SessionID,
		ResponderID: deref(d.ResponderID),
		Status:      d.Status,
		Timestamp:   c.now().UTC().Format(time.RFC3339),
	}
	if d.ArrivalTime != nil {
		r.ArrivalTime = d.ArrivalTime.UTC().Format(time.RFC3339)
	}
	return r
}

// sessionLocation returns the incident location recorded on the session, or
// "" when it has none or cannot be read.
func (c *Coordinator) sessionLocation(ctx context.Context, log logrus.FieldLogger, sessionID string) string {
	id, err := db.Query(ctx, c.gw, "dispatch.session_location", func(tx *gorm.DB) (string, error) {
		var found []models.Session
		if err := tx.Select("id", "location_id").Where("id = ?", sessionID).Limit(1).Find(&found).Error; err != nil {
			return "", err
		}
		if len(found) == 0 {
			return "", nil
		}
		return deref(found[0].LocationID), nil
	})
	if err != nil {
		log.WithError(err).Warn("dispatch: session location lookup failed")
		return ""
	}
	return id
}

func requireSession(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&models.Session{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("dispatch: check session: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

func requireResponder(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&models.Responder{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("dispatch: check responder: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrResponderNotFound, id)
	}
	return nil
}

// syncResponder moves the responder to the status matching its dispatch.
func syncResponder(tx *gorm.DB, responderID *string, dispatchStatus string) error {
	if responderID == nil {
		return nil
	}
	rs, ok := responderStatusFor[dispatchStatus]
	if !ok {
		return nil
	}
	if err := tx.Model(&models.Responder{}).Where("id = ?", *responderID).Update("status", rs).Error; err != nil {
		return fmt.Errorf("dispatch: update responder %s: %w", *responderID, err)
	}
	return nil
}

// generateUniqueID creates a dispatch ID not already in use.
func generateUniqueID(tx *gorm.DB) (string, error) {
	for range 2 {
		id, err := GenerateID()
		if err != nil {
			return "", err
		}
		var count int64
		if err := tx.Model(&models.Dispatch{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return "", fmt.Errorf("dispatch: check ID uniqueness: %w", err)
		}
		if count == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("dispatch: failed to generate unique ID after retries")
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
