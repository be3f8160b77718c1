package ledger

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/lifeline/internal/models"
)

// Fields is a partial session record. A nil field was not supplied and is
// left untouched; a non-nil field is written, even when it points at an
// empty string. Decoding JSON treats absent keys and null alike as omitted.
type Fields struct {
	EmergencyType  *string `json:"emergency_type"`
	Description    *string `json:"description"`
	CallerPhone    *string `json:"caller_phone"`
	CallerName     *string `json:"caller_name"`
	Language       *string `json:"language"`
	Address        *string `json:"address"`
	Landmark       *string `json:"landmark"`
	GPSCoordinates *string `json:"gps_coordinates"`
	City           *string `json:"city"`
	District       *string `json:"district"`
	PriorityLevel  *int    `json:"priority_level"`
	Notes          *string `json:"notes"`
	Status         *string `json:"status"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Empty reports whether no field was supplied.
func (f Fields) Empty() bool {
	return len(f.columns()) == 0
}

// normalize upper-cases the emergency type, maps unknown types to OTHER and
// drops an out-of-range priority. Each correction is logged as a warning.
func (f Fields) normalize(log logrus.FieldLogger) Fields {
	if f.EmergencyType != nil {
		raw := *f.EmergencyType
		et := strings.ToUpper(strings.TrimSpace(raw))
		if !models.IsEmergencyType(et) {
			log.WithField("emergency_type", raw).Warn("ledger: unknown emergency type, using OTHER")
			et = models.EmergencyOther
		}
		f.EmergencyType = &et
	}
	if f.PriorityLevel != nil && (*f.PriorityLevel < 1 || *f.PriorityLevel > 5) {
		log.WithField("priority_level", *f.PriorityLevel).Warn("ledger: priority_level out of range 1-5, ignoring")
		f.PriorityLevel = nil
	}
	return f
}

// columns maps each supplied field to its column name.
func (f Fields) columns() map[string]interface{} {
	cols := make(map[string]interface{})
	set := func(name string, v *string) {
		if v != nil {
			cols[name] = *v
		}
	}
	set("emergency_type", f.EmergencyType)
	set("description", f.Description)
	set("caller_phone", f.CallerPhone)
	set("caller_name", f.CallerName)
	set("language", f.Language)
	set("address", f.Address)
	set("landmark", f.Landmark)
	set("gps_coordinates", f.GPSCoordinates)
	set("city", f.City)
	set("district", f.District)
	set("notes", f.Notes)
	set("status", f.Status)
	if f.PriorityLevel != nil {
		cols["priority_level"] = *f.PriorityLevel
	}
	return cols
}

// apply copies the supplied fields onto s.
func (f Fields) apply(s *models.Session) {
	copyStr := func(dst **string, v *string) {
		if v != nil {
			c := *v
			*dst = &c
		}
	}
	copyStr(&s.EmergencyType, f.EmergencyType)
	copyStr(&s.Description, f.Description)
	copyStr(&s.CallerPhone, f.CallerPhone)
	copyStr(&s.CallerName, f.CallerName)
	copyStr(&s.Address, f.Address)
	copyStr(&s.Landmark, f.Landmark)
	copyStr(&s.GPSCoordinates, f.GPSCoordinates)
	copyStr(&s.City, f.City)
	copyStr(&s.District, f.District)
	copyStr(&s.Notes, f.Notes)
	copyStr(&s.Status, f.Status)
	if f.Language != nil {
		s.Language = *f.Language
	}
	if f.PriorityLevel != nil {
		s.PriorityLevel = *f.PriorityLevel
	}
}
