package models

// Emergency types.
const (
	EmergencyMedical = "MEDICAL"
	EmergencyPolice  = "POLICE"
	EmergencyFire    = "FIRE"
	EmergencyOther   = "OTHER"
)

// Speaker types for transcript entries.
const (
	SpeakerSystem = "SYSTEM"
	SpeakerCaller = "CALLER"
	SpeakerAgent  = "AGENT"
)

// Session statuses written by lifeline itself. Session.Status is free-form;
// callers may store any other value.
const (
	SessionActive            = "ACTIVE"
	SessionEmergencyVerified = "EMERGENCY_VERIFIED"
	SessionDispatched        = "DISPATCHED"
	SessionCompleted         = "COMPLETED"
	SessionDropped           = "DROPPED"
)

// Location kinds.
const (
	LocationBase     = "BASE"
	LocationIncident = "INCIDENT"
)

// Dispatch statuses.
const (
	DispatchPending   = "PENDING"
	DispatchEnRoute   = "EN_ROUTE"
	DispatchArrived   = "ARRIVED"
	DispatchCompleted = "COMPLETED"
	DispatchCancelled = "CANCELLED"
)

// Responder types.
const (
	ResponderAmbulance = "AMBULANCE"
	ResponderPolice    = "POLICE"
	ResponderFire      = "FIRE"
	ResponderOther     = "OTHER"
)

// Responder statuses.
const (
	ResponderAvailable    = "AVAILABLE"
	ResponderDispatched   = "DISPATCHED"
	ResponderOnRoute      = "ON_ROUTE"
	ResponderOnScene      = "ON_SCENE"
	ResponderReturning    = "RETURNING"
	ResponderOutOfService = "OUT_OF_SERVICE"
)

// IsEmergencyType reports whether s is a known emergency type.
func IsEmergencyType(s string) bool {
	switch s {
	case EmergencyMedical, EmergencyPolice, EmergencyFire, EmergencyOther:
		return true
	}
	return false
}

// IsSpeakerType reports whether s is a known speaker type.
func IsSpeakerType(s string) bool {
	switch s {
	case SpeakerSystem, SpeakerCaller, SpeakerAgent:
		return true
	}
	return false
}
