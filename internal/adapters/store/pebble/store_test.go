package pebble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreLatestAcrossSensors(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.Latest(ctx, "S1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// "S1" is a prefix of "S10"; the length prefix keeps their ranges apart.
	for _, b := range []*domain.Batch{
		{ID: "a", SensorID: "S1", CapturedAt: t0, Channels: []domain.Channel{{Name: "Temp", Value: 1}}},
		{ID: "b", SensorID: "S1", CapturedAt: t0.Add(time.Second), Channels: []domain.Channel{{Name: "Temp", Value: 2}}},
		{ID: "c", SensorID: "S10", CapturedAt: t0.Add(time.Hour), Channels: []domain.Channel{{Name: "Temp", Value: 3}}},
	} {
		if err := s.Put(ctx, b); err != nil {
			t.Fatalf("put %s: %v", b.ID, err)
		}
	}

	got, err := s.Latest(ctx, "S1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.ID != "b" || got.Channels[0].Value != 2 {
		t.Fatalf("expected batch b, got %+v", got)
	}
}

func TestStoreLatestBreaksTiesByWriteOrder(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, id := range []string{"zzz", "aaa"} {
		if err := s.Put(ctx, &domain.Batch{ID: id, SensorID: "S1", CapturedAt: at}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	got, err := s.Latest(ctx, "S1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.ID != "aaa" {
		t.Fatalf("expected the later write to win a timestamp tie, got %s", got.ID)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if err := s.Put(ctx, &domain.Batch{ID: "000", SensorID: "S1", CapturedAt: at}); err != nil {
		t.Fatalf("put after reopen: %v", err)
	}
	if got, _ := s.Latest(ctx, "S1"); got.ID != "000" {
		t.Fatalf("expected sequence to survive reopen, got %s", got.ID)
	}
}

func TestStoreFind(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	batches := []*domain.Batch{
		{ID: "1", SensorID: "S2", DeviceID: "D1", CapturedAt: t0.Add(2 * time.Hour), Channels: []domain.Channel{{Name: "Temp", Value: 1}}},
		{ID: "2", SensorID: "S1", DeviceID: "D1", CapturedAt: t0, Channels: []domain.Channel{{Name: "Humidity", Value: 40}}},
		{ID: "3", SensorID: "S1", DeviceID: "D2", CapturedAt: t0.Add(time.Hour), Channels: []domain.Channel{{Name: "Temp", Value: 5}}},
	}
	for _, b := range batches {
		if err := s.Put(ctx, b); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	all, err := s.Find(ctx, ports.ReadingFilter{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(all) != 3 || all[0].ID != "2" || all[2].ID != "1" {
		t.Fatalf("expected time order 2,3,1 got %+v", all)
	}

	fromHour, _ := s.Find(ctx, ports.ReadingFilter{SensorID: "S1", From: t0.Add(time.Hour)})
	if len(fromHour) != 1 || fromHour[0].ID != "3" {
		t.Fatalf("unexpected from filter: %+v", fromHour)
	}

	temps, _ := s.Find(ctx, ports.ReadingFilter{ChannelName: "temp", DeviceID: "D1"})
	if len(temps) != 1 || temps[0].ID != "1" {
		t.Fatalf("unexpected channel/device filter: %+v", temps)
	}
}

func TestUpperBound(t *testing.T) {
	if got := upperBound([]byte{0x01, 0xff}); string(got) != string([]byte{0x02}) {
		t.Fatalf("unexpected bound %x", got)
	}
	if got := upperBound([]byte{0xff}); got != nil {
		t.Fatalf("expected nil bound for all-0xff prefix, got %x", got)
	}
}
