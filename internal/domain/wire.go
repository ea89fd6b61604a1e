package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type wireReading struct {
	SensorName          string   `json:"sensor_name"`
	Status              string   `json:"status"`
	Reading             *float64 `json:"reading"`
	Unit                string   `json:"unit"`
	Note                *string  `json:"note"`
	SensorHealth        *string  `json:"sensor_health"`
	SensorSpecification *string  `json:"sensor_specification"`
}

type wireBatch struct {
	DeviceID string        `json:"device_id"`
	SensorID string        `json:"sensor_id"`
	Readings []wireReading `json:"readings"`
}

// DecodeBatch parses the transport JSON framing of a batch. Unknown fields
// are ignored; a reading without a numeric value is rejected.
func DecodeBatch(data []byte) (*Batch, error) {
	var w wireBatch
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return nil, &ValidationError{Field: "payload", Reason: "is not valid JSON", Err: err}
	}

	b := &Batch{
		SensorID: w.SensorID,
		DeviceID: w.DeviceID,
		Channels: make([]Channel, 0, len(w.Readings)),
	}
	for i, r := range w.Readings {
		if r.Reading == nil {
			return nil, NewValidationError(fmt.Sprintf("readings[%d].reading", i), "is required")
		}
		b.Channels = append(b.Channels, Channel{
			Name:          r.SensorName,
			Status:        r.Status,
			Value:         *r.Reading,
			Unit:          r.Unit,
			Note:          deref(r.Note),
			Health:        deref(r.SensorHealth),
			Specification: deref(r.SensorSpecification),
		})
	}
	return b, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
