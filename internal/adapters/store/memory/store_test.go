package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func put(t *testing.T, s *Store, sensor, device string, at time.Time, chans ...domain.Channel) {
	t.Helper()
	if err := s.Put(context.Background(), &domain.Batch{ID: sensor + at.String(), SensorID: sensor, DeviceID: device, CapturedAt: at, Channels: chans}); err != nil {
		t.Fatalf("put: %v", err)
	}
}

func TestStoreLatest(t *testing.T) {
	s := NewStore()
	if _, err := s.Latest(context.Background(), "S1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	put(t, s, "S1", "D1", t0.Add(time.Minute), domain.Channel{Name: "Temp", Value: 2})
	put(t, s, "S1", "D1", t0, domain.Channel{Name: "Temp", Value: 1})

	got, err := s.Latest(context.Background(), "S1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.Channels[0].Value != 2 {
		t.Fatalf("expected newest batch by captured_at, got %+v", got)
	}

	got.Channels[0].Value = 99
	again, _ := s.Latest(context.Background(), "S1")
	if again.Channels[0].Value != 2 {
		t.Fatalf("latest must return a copy")
	}
}

func TestStoreFind(t *testing.T) {
	s := NewStore()
	put(t, s, "S1", "D1", t0, domain.Channel{Name: "Temp", Value: 1}, domain.Channel{Name: "Humidity", Value: 40})
	put(t, s, "S1", "D2", t0.Add(time.Hour), domain.Channel{Name: "Humidity", Value: 50})
	put(t, s, "S2", "D1", t0.Add(2*time.Hour), domain.Channel{Name: "temp", Value: 3})

	all, err := s.Find(context.Background(), ports.ReadingFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 batches, got %d err=%v", len(all), err)
	}
	if !all[0].CapturedAt.Equal(t0) || all[2].SensorID != "S2" {
		t.Fatalf("expected ascending order, got %+v", all)
	}

	byDevice, _ := s.Find(context.Background(), ports.ReadingFilter{DeviceID: "D1"})
	if len(byDevice) != 2 {
		t.Fatalf("expected 2 batches for D1, got %d", len(byDevice))
	}

	byChannel, _ := s.Find(context.Background(), ports.ReadingFilter{ChannelName: "TEMP"})
	if len(byChannel) != 2 || len(byChannel[0].Channels) != 1 || byChannel[0].Channels[0].Name != "Temp" {
		t.Fatalf("unexpected channel filter result: %+v", byChannel)
	}

	window, _ := s.Find(context.Background(), ports.ReadingFilter{From: t0.Add(time.Minute), To: t0.Add(2 * time.Hour)})
	if len(window) != 1 || window[0].DeviceID != "D2" {
		t.Fatalf("unexpected time window result: %+v", window)
	}
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewStore().Put(ctx, &domain.Batch{SensorID: "S1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancelled, got %v", err)
	}
}
