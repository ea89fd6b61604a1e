package ports

import (
	"context"
	"strings"
	"time"

	"github.com/parthCJ/Aarma-be/internal/domain"
)

// ReadingStore is the append-only log of persisted batches.
// Latest returns domain.ErrNotFound when the sensor has no batch yet.
type ReadingStore interface {
	Latest(ctx context.Context, sensorID string) (*domain.Batch, error)
	Put(ctx context.Context, b *domain.Batch) error
	Name() string
}

// ReadingFilter narrows a query over persisted batches. Zero values match all.
type ReadingFilter struct {
	SensorID    string
	DeviceID    string
	ChannelName string
	From        time.Time
	To          time.Time
}

// ReadingQuerier is implemented by stores that can serve the query API.
// Results are ordered by CapturedAt ascending.
type ReadingQuerier interface {
	Find(ctx context.Context, f ReadingFilter) ([]domain.Batch, error)
}

// Match reports whether b falls inside the sensor, device and time bounds.
// From is inclusive, To is exclusive.
func (f ReadingFilter) Match(b *domain.Batch) bool {
	if f.SensorID != "" && b.SensorID != f.SensorID {
		return false
	}
	if f.DeviceID != "" && b.DeviceID != f.DeviceID {
		return false
	}
	if !f.From.IsZero() && b.CapturedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !b.CapturedAt.Before(f.To) {
		return false
	}
	return true
}

// Narrow returns a copy of b holding only channels named ChannelName
// (case-insensitive). ok is false when no channel is left.
func (f ReadingFilter) Narrow(b domain.Batch) (domain.Batch, bool) {
	if f.ChannelName == "" {
		return b, true
	}
	kept := make([]domain.Channel, 0, len(b.Channels))
	for _, ch := range b.Channels {
		if strings.EqualFold(ch.Name, f.ChannelName) {
			kept = append(kept, ch)
		}
	}
	b.Channels = kept
	return b, len(kept) > 0
}
