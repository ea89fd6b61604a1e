package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/parthCJ/Aarma-be/internal/domain"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	if ok, _ := r.ExistsActive(ctx, "S1"); ok {
		t.Fatalf("unknown sensor reported active")
	}
	if _, err := r.Register(ctx, domain.Sensor{SensorID: "S1", Devices: []string{"D1"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register(ctx, domain.Sensor{SensorID: "S1"}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if ok, _ := r.ExistsActive(ctx, "S1"); !ok {
		t.Fatalf("registered sensor not active")
	}

	s, err := r.UpdateDevices(ctx, "S1", []string{"D1", "D2"})
	if err != nil || len(s.Devices) != 2 {
		t.Fatalf("update devices: %v %+v", err, s)
	}
	hist, _ := r.History(ctx, "S1")
	if len(hist) != 1 || hist[0].HistoryID == "" {
		t.Fatalf("expected one history record, got %+v", hist)
	}
	if old := hist[0].OldData["devices"].([]string); len(old) != 1 || old[0] != "D1" {
		t.Fatalf("history must hold previous devices, got %v", old)
	}

	if err := r.Deactivate(ctx, "S1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := r.Deactivate(ctx, "S1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on second deactivate, got %v", err)
	}
	if _, err := r.Get(ctx, "S1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("inactive sensor must not be returned, got %v", err)
	}
	if _, err := r.UpdateDevices(ctx, "S1", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("inactive sensor must not be updated, got %v", err)
	}

	again, err := r.Register(ctx, domain.Sensor{SensorID: "S1", Devices: []string{"D9"}})
	if err != nil || !again.Active || again.Devices[0] != "D9" {
		t.Fatalf("expected reactivation, got %+v %v", again, err)
	}
}
