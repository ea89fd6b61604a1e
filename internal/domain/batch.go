package domain

import "time"

// Channel is one named measurement inside a batch (e.g. "Temperature").
type Channel struct {
	Name          string  `json:"sensor_name"`
	Status        string  `json:"status"`
	Value         float64 `json:"reading"`
	Unit          string  `json:"unit"`
	Note          string  `json:"note"`
	Health        string  `json:"sensor_health"`
	Specification string  `json:"sensor_specification"`
}

// Batch is the canonical unit of sensor telemetry in Aarma: every channel a
// sensor reported in one transmission.
type Batch struct {
	ID         string    `json:"id,omitempty"`
	SensorID   string    `json:"sensor_id"`
	DeviceID   string    `json:"device_id"`
	CapturedAt time.Time `json:"created_at"`
	Channels   []Channel `json:"readings"`
}

// Clone returns a deep copy so callers never share the channel slice.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	out := *b
	out.Channels = append([]Channel(nil), b.Channels...)
	return &out
}

// Sensor is a registered sensor. Sensors are deactivated, never removed.
type Sensor struct {
	SensorID  string    `json:"sensor_id"`
	Devices   []string  `json:"devices"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SensorUpdate records the before/after of a registry change.
type SensorUpdate struct {
	HistoryID     string         `json:"history_id"`
	SensorID      string         `json:"sensor_id"`
	Timestamp     time.Time      `json:"timestamp"`
	OldData       map[string]any `json:"old_data"`
	UpdatedFields map[string]any `json:"updated_fields"`
}
