package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/15 * * * *", false},
		{"0 30 2 * * *", false},
		{"@daily", false},
		{"@every 1h", false},
		{"", true},
		{"*", true},
		{"not a cron", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := Parse(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSchedule) {
				t.Errorf("error %v does not wrap ErrInvalidSchedule", err)
			}
		})
	}
}

func TestPrevious(t *testing.T) {
	at := func(s string) time.Time {
		t.Helper()
		v, err := time.Parse(time.RFC3339, s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		return v
	}

	tests := []struct {
		name string
		expr string
		now  string
		want string
	}{
		{"quarter hour", "*/15 * * * *", "2026-03-01T12:07:30Z", "2026-03-01T12:00:00Z"},
		{"exactly on fire", "*/15 * * * *", "2026-03-01T12:15:00Z", "2026-03-01T12:15:00Z"},
		{"with seconds", "30 */5 * * * *", "2026-03-01T12:07:00Z", "2026-03-01T12:05:30Z"},
		{"daily", "0 3 * * *", "2026-03-01T02:00:00Z", "2026-02-28T03:00:00Z"},
		{"monthly", "0 0 1 * *", "2026-03-20T10:00:00Z", "2026-03-01T00:00:00Z"},
		{"yearly leap day", "0 0 29 2 *", "2026-03-01T00:00:00Z", "2024-02-29T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Previous(tt.expr, at(tt.now))
			if err != nil {
				t.Fatalf("Previous() error = %v", err)
			}
			if want := at(tt.want); !got.Equal(want) {
				t.Errorf("Previous() = %v, want %v", got, want)
			}
		})
	}
}

func TestPrevious_Invalid(t *testing.T) {
	if _, err := Previous("x", time.Now()); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("Previous() error = %v, want ErrInvalidSchedule", err)
	}
}
