// Package ledger creates, updates and reads emergency sessions and their
// transcripts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/lifeline/internal/db"
	"github.com/zulandar/lifeline/internal/logging"
	"github.com/zulandar/lifeline/internal/models"
	"gorm.io/gorm"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("ledger: session not found")

// Placeholder text written when a call connects before any detail is known.
const PlaceholderDescription = "Initial session - details pending"

// DefaultPriority is stored when a session is created without a priority.
const DefaultPriority = 3

// Opts holds parameters for New.
type Opts struct {
	Gateway         *db.Gateway
	Logger          logrus.FieldLogger
	DefaultLanguage string
	Now             func() time.Time
}

// Ledger owns session and transcript persistence.
type Ledger struct {
	gw       *db.Gateway
	log      logrus.FieldLogger
	language string
	now      func() time.Time
}

// New creates a Ledger.
func New(opts Opts) (*Ledger, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("ledger: gateway is required")
	}
	if opts.DefaultLanguage == "" {
		return nil, fmt.Errorf("ledger: default language is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		gw:       opts.Gateway,
		log:      logging.OrDiscard(opts.Logger).WithField("component", "ledger"),
		language: opts.DefaultLanguage,
		now:      opts.Now,
	}, nil
}

// Result is the outcome of a session write, shaped for the conversational
// model. Failures are reported in Error, never as a Go error.
type Result struct {
	Success       bool   `json:"success"`
	SessionID     string `json:"session_id,omitempty"`
	CallerID      string `json:"caller_id,omitempty"`
	LocationID    string `json:"location_id,omitempty"`
	EmergencyType string `json:"emergency_type,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	Error         string `json:"error,omitempty"`
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// Upsert creates a session when id is empty, otherwise applies f to the
// existing session.
func (l *Ledger) Upsert(ctx context.Context, id string, f Fields) Result {
	if id == "" {
		return l.Create(ctx, f, "")
	}
	return l.Update(ctx, id, f)
}

// Create inserts a new session holding only the supplied fields. When
// supersedes is set the new session records the id it replaces. A caller
// phone links the session to its Caller and location details to a new
// incident Location, in the same transaction.
func (l *Ledger) Create(ctx context.Context, f Fields, supersedes string) Result {
	f = f.normalize(l.log)
	s := l.newSession(f)
	if supersedes != "" {
		s.SupersedesID = &supersedes
	}

	err := l.gw.Run(ctx, "ledger.create_session", func(tx *gorm.DB) error {
		s.CallerID, s.LocationID = nil, nil
		if phone := f.callerPhone(); phone != "" {
			callerID, err := l.linkCaller(tx, phone, f.CallerName, f.Language)
			if err != nil {
				return err
			}
			s.CallerID = &callerID
		}
		if err := tx.Create(&s).Error; err != nil {
			return err
		}
		if f.hasLocation() {
			locationID, err := l.syncLocation(tx, s.ID)
			if err != nil {
				return err
			}
			s.LocationID = &locationID
		}
		return nil
	})
	if err != nil {
		l.log.WithError(err).Error("ledger: create session failed")
		return failure(err)
	}

	entry := l.log.WithField("session_id", s.ID)
	if supersedes != "" {
		entry = entry.WithField("supersedes_id", supersedes)
	}
	entry.Info("ledger: session created")
	return Result{
		Success:       true,
		SessionID:     s.ID,
		CallerID:      deref(s.CallerID),
		LocationID:    deref(s.LocationID),
		EmergencyType: deref(s.EmergencyType),
		Timestamp:     s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Update writes the supplied fields of f to session id. Omitted fields keep
// their stored values.
func (l *Ledger) Update(ctx context.Context, id string, f Fields) Result {
	f = f.normalize(l.log.WithField("session_id", id))
	cols := f.columns()

	var emergencyType, callerID, locationID string
	err := l.gw.Run(ctx, "ledger.update_session", func(tx *gorm.DB) error {
		var s models.Session
		err := tx.Select("id", "emergency_type", "caller_id", "location_id").Where("id = ?", id).First(&s).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
			}
			return err
		}
		emergencyType, callerID, locationID = deref(s.EmergencyType), deref(s.CallerID), deref(s.LocationID)
		if len(cols) == 0 {
			return nil
		}

		updates := make(map[string]interface{}, len(cols)+1)
		for k, v := range cols {
			updates[k] = v
		}
		if phone := f.callerPhone(); phone != "" {
			linked, err := l.linkCaller(tx, phone, f.CallerName, f.Language)
			if err != nil {
				return err
			}
			updates["caller_id"] = linked
			callerID = linked
		}
		if err := tx.Model(&models.Session{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		if f.EmergencyType != nil {
			emergencyType = *f.EmergencyType
		}
		if f.hasLocation() {
			linked, err := l.syncLocation(tx, id)
			if err != nil {
				return err
			}
			locationID = linked
		}
		return nil
	})
	if err != nil {
		l.log.WithField("session_id", id).WithError(err).Error("ledger: update session failed")
		return failure(err)
	}

	l.log.WithFields(logrus.Fields{
		"session_id": id,
		"fields":     len(cols),
	}).Info("ledger: session updated")
	return Result{
		Success:       true,
		SessionID:     id,
		CallerID:      callerID,
		LocationID:    locationID,
		EmergencyType: emergencyType,
		Timestamp:     l.now().UTC().Format(time.RFC3339),
	}
}

// Bootstrap creates the placeholder session for a newly connected call and
// records its initialization as a SYSTEM transcript entry. Both rows are
// written in one transaction.
func (l *Ledger) Bootstrap(ctx context.Context) (string, error) {
	desc := PlaceholderDescription
	s := l.newSession(Fields{Description: &desc})

	err := l.gw.Run(ctx, "ledger.bootstrap", func(tx *gorm.DB) error {
		if err := tx.Create(&s).Error; err != nil {
			return err
		}
		msg := "Emergency session initialized at " + l.now().UTC().Format(time.RFC3339)
		_, err := l.appendTx(tx, s.ID, models.SpeakerSystem, msg)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("ledger: bootstrap: %w", err)
	}
	l.log.WithField("session_id", s.ID).Info("ledger: placeholder session created")
	return s.ID, nil
}

func (l *Ledger) newSession(f Fields) models.Session {
	now := l.now()
	s := models.Session{
		ID:            uuid.NewString(),
		Language:      l.language,
		PriorityLevel: DefaultPriority,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	f.apply(&s)
	return s
}

// ListFilters narrows List. Empty fields match everything.
type ListFilters struct {
	Status        string
	City          string
	District      string
	EmergencyType string
	Limit         int
}

// activeStatuses are the statuses counted as an open incident, alongside
// an unset status.
var activeStatuses = []string{models.SessionActive, models.SessionEmergencyVerified, models.SessionDispatched}

// Get loads a session with its caller, incident location, transcript and
// dispatches.
func (l *Ledger) Get(ctx context.Context, id string) (*models.Session, error) {
	return db.Query(ctx, l.gw, "ledger.get_session", func(tx *gorm.DB) (*models.Session, error) {
		var s models.Session
		err := tx.
			Preload("Caller").
			Preload("Location").
			Preload("Transcript", func(q *gorm.DB) *gorm.DB { return q.Order("sequence ASC") }).
			Preload("Dispatches", func(q *gorm.DB) *gorm.DB { return q.Order("dispatched_at ASC") }).
			Preload("Dispatches.Responder").
			Where("id = ?", id).
			First(&s).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		return &s, nil
	})
}

// List returns sessions matching filters, newest first.
func (l *Ledger) List(ctx context.Context, filters ListFilters) ([]models.Session, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	return db.Query(ctx, l.gw, "ledger.list_sessions", func(tx *gorm.DB) ([]models.Session, error) {
		q := tx.Model(&models.Session{})
		if filters.Status != "" {
			q = q.Where("status = ?", filters.Status)
		}
		if filters.City != "" {
			q = q.Where("city = ?", filters.City)
		}
		if filters.District != "" {
			q = q.Where("district = ?", filters.District)
		}
		if filters.EmergencyType != "" {
			q = q.Where("emergency_type = ?", strings.ToUpper(filters.EmergencyType))
		}
		var sessions []models.Session
		err := q.Order("created_at DESC").Limit(limit).Find(&sessions).Error
		return sessions, err
	})
}

// Active returns open sessions: status unset, ACTIVE, EMERGENCY_VERIFIED or
// DISPATCHED. Newest first.
func (l *Ledger) Active(ctx context.Context) ([]models.Session, error) {
	return db.Query(ctx, l.gw, "ledger.active_sessions", func(tx *gorm.DB) ([]models.Session, error) {
		var sessions []models.Session
		err := tx.Where("status IS NULL OR status IN ?", activeStatuses).
			Order("created_at DESC").
			Find(&sessions).Error
		return sessions, err
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
