package instance

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/nerrad567/instance-watch/internal/store"
)

type mockLister struct {
	objects []store.Object
	err     error
}

func (m *mockLister) ListInstances(context.Context) ([]store.Object, error) {
	return m.objects, m.err
}

func obj(id, mode string, enabled *bool, schedule string) store.Object {
	return store.Object{
		ID:     store.AdapterPrefix + id,
		Type:   store.ObjectTypeInstance,
		Common: store.ObjectCommon{Enabled: enabled, Mode: mode, Schedule: schedule},
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		raw  string
		want Mode
	}{
		{"daemon", ModePersistent},
		{"schedule", ModeScheduled},
		{"once", ModeUnsupported},
		{"none", ModeUnsupported},
		{"", ModeUnsupported},
		{"Daemon", ModeUnsupported},
	}
	for _, tt := range tests {
		if got := ParseMode(tt.raw); got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"sonos.0", false},
		{"hm-rpc.1", false},
		{"my_adapter.12", false},
		{"sonos.123", true},
		{"Sonos.0", true},
		{"0sonos.0", true},
		{"sonos", true},
		{"sonos.0.alive", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidID) {
				t.Errorf("error %v does not wrap ErrInvalidID", err)
			}
		})
	}
}

func TestNormalizeExclusions(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantValid   []string
		wantInvalid []string
	}{
		{"empty", "", nil, nil},
		{"single", "sonos.0", []string{"sonos.0"}, nil},
		{"semicolons and case", "Sonos.0; HM-RPC.1", []string{"sonos.0", "hm-rpc.1"}, nil},
		{"strips characters", "so nos.0,back!up.1", []string{"sonos.0", "backup.1"}, nil},
		{"collapses commas", ",,sonos.0,,,,backup.1,", []string{"sonos.0", "backup.1"}, nil},
		{"invalid tokens", "sonos,backup.1,web.100", []string{"backup.1"}, []string{"sonos", "web.100"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, invalid := NormalizeExclusions(tt.raw)
			if !reflect.DeepEqual(valid, tt.wantValid) {
				t.Errorf("valid = %v, want %v", valid, tt.wantValid)
			}
			if !reflect.DeepEqual(invalid, tt.wantInvalid) {
				t.Errorf("invalid = %v, want %v", invalid, tt.wantInvalid)
			}
		})
	}
}

func TestValidSchedule(t *testing.T) {
	for expr, want := range map[string]bool{"": false, "*": false, " * ": false, "@daily": true, "*/15 * * * *": true} {
		if got := ValidSchedule(expr); got != want {
			t.Errorf("ValidSchedule(%q) = %v, want %v", expr, got, want)
		}
	}
}

func TestDiscover(t *testing.T) {
	lister := &mockLister{objects: []store.Object{
		obj("sonos.0", "daemon", Bool(true), "ignored"),
		obj("backup.1", "schedule", Bool(false), "*/15 * * * *"),
		obj("admin.0", "daemon", Bool(true), ""),
		obj("onetime.0", "once", Bool(true), ""),
		obj("instance-watch.0", "daemon", Bool(true), ""),
		obj("noflag.0", "daemon", nil, ""),
		{ID: "system.adapter.sonos", Type: "adapter"},
	}}

	cat, warnings, err := Discover(context.Background(), lister, Options{
		SelfID:  "instance-watch.0",
		Exclude: "Admin.0;bogus",
	})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if !reflect.DeepEqual(warnings, []string{"bogus"}) {
		t.Errorf("warnings = %v", warnings)
	}
	if got, want := cat.IDs(), []string{"backup.1", "noflag.0", "sonos.0"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("IDs() = %v, want %v", got, want)
	}

	sonos, _ := cat.Get("sonos.0")
	if sonos.Mode != ModePersistent || !sonos.Enabled || sonos.Schedule != "" {
		t.Errorf("sonos.0 = %+v", sonos)
	}
	backup, _ := cat.Get("backup.1")
	if backup.Mode != ModeScheduled || backup.Enabled || backup.Schedule != "*/15 * * * *" {
		t.Errorf("backup.1 = %+v", backup)
	}
	noflag, _ := cat.Get("noflag.0")
	if noflag.Enabled {
		t.Error("missing enabled flag should be false")
	}
}

func TestDiscover_Errors(t *testing.T) {
	tests := []struct {
		name   string
		lister *mockLister
	}{
		{"list fails", &mockLister{err: store.ErrClosed}},
		{"malformed id", &mockLister{objects: []store.Object{obj("Bad.0", "daemon", Bool(true), "")}}},
		{"mixed-case adapter", &mockLister{objects: []store.Object{obj("sonosA.0", "daemon", Bool(true), "")}}},
		{"missing mode", &mockLister{objects: []store.Object{obj("sonos.0", "", Bool(true), "")}}},
		{"nothing left", &mockLister{objects: []store.Object{obj("instance-watch.0", "daemon", Bool(true), "")}}},
		{"empty store", &mockLister{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, _, err := Discover(context.Background(), tt.lister, Options{SelfID: "instance-watch.0"})
			if !errors.Is(err, ErrDiscovery) {
				t.Errorf("Discover() error = %v, want ErrDiscovery", err)
			}
			if cat != nil {
				t.Error("catalog returned on failure")
			}
		})
	}
}

func TestCatalog_CopiesAreIsolated(t *testing.T) {
	cat := NewCatalog(Instance{ID: "sonos.0", Mode: ModePersistent, Alive: Bool(true)})

	got, ok := cat.Get("sonos.0")
	if !ok {
		t.Fatal("Get() not found")
	}
	*got.Alive = false
	got.Enabled = true

	again, _ := cat.Get("sonos.0")
	if !*again.Alive || again.Enabled {
		t.Errorf("catalog mutated through copy: %+v", again)
	}
}

func TestCatalog_Update(t *testing.T) {
	cat := NewCatalog(
		Instance{ID: "sonos.0", Mode: ModePersistent},
		Instance{ID: "backup.1", Mode: ModeScheduled, Schedule: "0 * * * *"},
	)

	if cat.Update("missing.0", func(*Instance) {}) {
		t.Error("Update() of unknown id returned true")
	}

	ok := cat.Update("sonos.0", func(i *Instance) {
		i.ID = "renamed.0"
		i.Enabled = true
		i.Schedule = "* * * * *"
	})
	if !ok {
		t.Fatal("Update() returned false")
	}
	got, _ := cat.Get("sonos.0")
	if got.ID != "sonos.0" || !got.Enabled || got.Schedule != "" {
		t.Errorf("after Update() = %+v", got)
	}

	cat.Update("backup.1", func(i *Instance) { i.Schedule = "*/5 * * * *" })
	if got, _ := cat.Get("backup.1"); got.Schedule != "*/5 * * * *" {
		t.Errorf("schedule = %q", got.Schedule)
	}

	if cat.Len() != 2 {
		t.Errorf("Len() = %d", cat.Len())
	}
	snap := cat.Snapshot()
	if len(snap) != 2 || snap[0].ID != "backup.1" || snap[1].ID != "sonos.0" {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestCatalog_ConcurrentUpdates(t *testing.T) {
	cat := NewCatalog(Instance{ID: "sonos.0", Mode: ModePersistent})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cat.Update("sonos.0", func(i *Instance) { i.Operating = !i.Operating })
		}()
		go func() {
			defer wg.Done()
			_ = cat.Snapshot()
		}()
	}
	wg.Wait()

	if got, _ := cat.Get("sonos.0"); got.Operating {
		t.Error("50 toggles should leave Operating false")
	}
}
