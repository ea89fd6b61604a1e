// Package memory is an in-process sensor registry.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

type Registry struct {
	mu      sync.RWMutex
	sensors map[string]domain.Sensor
	history map[string][]domain.SensorUpdate
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sensors: make(map[string]domain.Sensor),
		history: make(map[string][]domain.SensorUpdate),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) ExistsActive(_ context.Context, sensorID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sensors[sensorID].Active, nil
}

// Register adds s, or reactivates it when it was deactivated earlier.
func (r *Registry) Register(_ context.Context, s domain.Sensor) (domain.Sensor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	prev, ok := r.sensors[s.SensorID]
	if ok && prev.Active {
		return domain.Sensor{}, domain.ErrAlreadyExists
	}
	s.Devices = append([]string{}, s.Devices...)
	s.Active = true
	s.CreatedAt = now
	if ok {
		s.CreatedAt = prev.CreatedAt
	}
	s.UpdatedAt = now
	r.sensors[s.SensorID] = s
	return s, nil
}

func (r *Registry) Get(_ context.Context, sensorID string) (domain.Sensor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sensors[sensorID]
	if !ok || !s.Active {
		return domain.Sensor{}, domain.ErrNotFound
	}
	s.Devices = append([]string{}, s.Devices...)
	return s, nil
}

func (r *Registry) UpdateDevices(_ context.Context, sensorID string, devices []string) (domain.Sensor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sensors[sensorID]
	if !ok || !s.Active {
		return domain.Sensor{}, domain.ErrNotFound
	}
	now := r.now()
	r.history[sensorID] = append(r.history[sensorID], domain.SensorUpdate{
		HistoryID:     uuid.NewString(),
		SensorID:      sensorID,
		Timestamp:     now,
		OldData:       map[string]any{"devices": s.Devices, "updated_at": s.UpdatedAt},
		UpdatedFields: map[string]any{"devices": devices},
	})
	s.Devices = append([]string{}, devices...)
	s.UpdatedAt = now
	r.sensors[sensorID] = s
	return s, nil
}

func (r *Registry) Deactivate(_ context.Context, sensorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sensors[sensorID]
	if !ok || !s.Active {
		return domain.ErrNotFound
	}
	s.Active = false
	s.UpdatedAt = r.now()
	r.sensors[sensorID] = s
	return nil
}

func (r *Registry) History(_ context.Context, sensorID string) ([]domain.SensorUpdate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]domain.SensorUpdate(nil), r.history[sensorID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

var _ ports.SensorRegistry = (*Registry)(nil)
