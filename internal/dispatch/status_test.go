package dispatch

import (
	"testing"
	"time"
)

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{"PENDING", "EN_ROUTE", true},
		{"PENDING", "CANCELLED", true},
		{"PENDING", "ARRIVED", false},
		{"EN_ROUTE", "ARRIVED", true},
		{"EN_ROUTE", "CANCELLED", true},
		{"EN_ROUTE", "PENDING", false},
		{"ARRIVED", "COMPLETED", true},
		{"ARRIVED", "CANCELLED", false},
		{"COMPLETED", "PENDING", false},
		{"CANCELLED", "EN_ROUTE", false},
		{"ARRIVED", "ARRIVED", true},
		{"PENDING", "ON_HOLD", false},
		{"ON_HOLD", "ON_HOLD", true},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := isValidTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("isValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestParseArrivalTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2026-03-01T10:00:00Z", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"2026-03-01T10:00:00.250+05:30", time.Date(2026, 3, 1, 4, 30, 0, 250e6, time.UTC), false},
		{"2026-03-01T10:00:00", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"2026-03-01T10:00:00.5", time.Date(2026, 3, 1, 10, 0, 0, 500e6, time.UTC), false},
		{"2026-03-01T10:00", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"2026-03-01 10:00:00", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"  2026-03-01  ", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"not-a-date", time.Time{}, true},
		{"01/03/2026", time.Time{}, true},
		{"2026-13-01", time.Time{}, true},
		{"", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseArrivalTime(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseArrivalTime(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseArrivalTime(%q): %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseArrivalTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestResponderTypeFor(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"MEDICAL", "AMBULANCE", true},
		{"medical", "AMBULANCE", true},
		{"POLICE", "POLICE", true},
		{"FIRE", "FIRE", true},
		{"OTHER", "", false},
		{"FLOOD", "", false},
	}
	for _, tt := range tests {
		got, ok := ResponderTypeFor(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ResponderTypeFor(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
