package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestSession_Fields(t *testing.T) {
	typ := reflect.TypeOf(Session{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:36")
	assertGormTag(t, typ, "EmergencyType", "index")
	assertGormTag(t, typ, "Description", "type:text")
	assertGormTag(t, typ, "Language", "not null")
	assertGormTag(t, typ, "GPSCoordinates", "column:gps_coordinates")
	assertGormTag(t, typ, "PriorityLevel", "default:3")
	assertGormTag(t, typ, "Status", "index")
	assertGormTag(t, typ, "SupersedesID", "size:36")

	for _, name := range []string{
		"EmergencyType", "Description", "CallerPhone", "CallerName", "Address",
		"Landmark", "GPSCoordinates", "City", "District", "Notes", "Status", "SupersedesID",
		"CallerID", "LocationID",
	} {
		assertFieldType(t, typ, name, "*string")
	}
	assertFieldType(t, typ, "ID", "string")
	assertFieldType(t, typ, "Language", "string")
	assertFieldType(t, typ, "PriorityLevel", "int")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
	assertFieldType(t, typ, "UpdatedAt", "time.Time")
}

func TestSession_Relations(t *testing.T) {
	typ := reflect.TypeOf(Session{})

	assertGormTag(t, typ, "Transcript", "foreignKey:SessionID")
	assertGormTag(t, typ, "Transcript", "OnDelete:CASCADE")
	assertGormTag(t, typ, "Dispatches", "foreignKey:SessionID")

	assertGormTag(t, typ, "Caller", "foreignKey:CallerID")
	assertGormTag(t, typ, "Location", "foreignKey:LocationID")

	assertFieldType(t, typ, "Caller", "*models.Caller")
	assertFieldType(t, typ, "Location", "*models.Location")
	assertFieldType(t, typ, "Transcript", "[]models.TranscriptEntry")
	assertFieldType(t, typ, "Dispatches", "[]models.Dispatch")
}

func TestTranscriptEntry_Fields(t *testing.T) {
	typ := reflect.TypeOf(TranscriptEntry{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "SessionID", "uniqueIndex:idx_transcript_session_seq,priority:1")
	assertGormTag(t, typ, "Sequence", "uniqueIndex:idx_transcript_session_seq,priority:2")
	assertGormTag(t, typ, "SpeakerType", "size:8")
	assertGormTag(t, typ, "Content", "type:text")
	assertGormTag(t, typ, "Timestamp", "not null")

	assertFieldType(t, typ, "ID", "uint")
	assertFieldType(t, typ, "Sequence", "int")
	assertFieldType(t, typ, "Timestamp", "time.Time")
}

func TestDispatch_Fields(t *testing.T) {
	typ := reflect.TypeOf(Dispatch{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "SessionID", "not null")
	assertGormTag(t, typ, "SessionID", "index")
	assertGormTag(t, typ, "Status", "default:PENDING")
	assertGormTag(t, typ, "DispatchedAt", "autoCreateTime")
	assertGormTag(t, typ, "Responder", "foreignKey:ResponderID")

	assertFieldType(t, typ, "ResponderID", "*string")
	assertFieldType(t, typ, "ArrivalTime", "*time.Time")
	assertFieldType(t, typ, "Notes", "*string")
	assertFieldType(t, typ, "Responder", "*models.Responder")
}

func TestResponder_Fields(t *testing.T) {
	typ := reflect.TypeOf(Responder{})

	assertGormTag(t, typ, "Identifier", "uniqueIndex")
	assertGormTag(t, typ, "Status", "default:AVAILABLE")
	assertGormTag(t, typ, "ResponderType", "not null")
	assertGormTag(t, typ, "Location", "foreignKey:LocationID")

	assertFieldType(t, typ, "LocationID", "*string")
	assertFieldType(t, typ, "Location", "*models.Location")
}

func TestLocation_Fields(t *testing.T) {
	typ := reflect.TypeOf(Location{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "GPSCoordinates", "column:gps_coordinates")
	assertGormTag(t, typ, "District", "index")
	assertGormTag(t, typ, "Kind", "default:BASE")
}

func TestCaller_Fields(t *testing.T) {
	typ := reflect.TypeOf(Caller{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "PhoneNumber", "uniqueIndex")
	assertGormTag(t, typ, "PhoneNumber", "not null")
	assertGormTag(t, typ, "Sessions", "foreignKey:CallerID")

	assertFieldType(t, typ, "Name", "*string")
	assertFieldType(t, typ, "Language", "*string")
	assertFieldType(t, typ, "Sessions", "[]models.Session")
}

func TestIsEmergencyType(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{EmergencyMedical, true},
		{EmergencyPolice, true},
		{EmergencyFire, true},
		{EmergencyOther, true},
		{"medical", false},
		{"FLOOD", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsEmergencyType(tt.in); got != tt.want {
			t.Errorf("IsEmergencyType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsSpeakerType(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{SpeakerSystem, true},
		{SpeakerCaller, true},
		{SpeakerAgent, true},
		{"caller", false},
		{"USER", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsSpeakerType(tt.in); got != tt.want {
			t.Errorf("IsSpeakerType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
