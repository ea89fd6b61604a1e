package ports

import (
	"context"

	"github.com/parthCJ/Aarma-be/internal/domain"
)

// SensorDirectory answers whether a sensor may report data.
type SensorDirectory interface {
	ExistsActive(ctx context.Context, sensorID string) (bool, error)
}

// SensorRegistry manages sensor registration. Deactivate is a soft delete.
type SensorRegistry interface {
	SensorDirectory
	Register(ctx context.Context, s domain.Sensor) (domain.Sensor, error)
	Get(ctx context.Context, sensorID string) (domain.Sensor, error)
	UpdateDevices(ctx context.Context, sensorID string, devices []string) (domain.Sensor, error)
	Deactivate(ctx context.Context, sensorID string) error
	History(ctx context.Context, sensorID string) ([]domain.SensorUpdate, error)
}
