package domain

import (
	"errors"
	"testing"
)

func TestDecodeBatch(t *testing.T) {
	payload := []byte(`{
		"device_id": "DEV001",
		"sensor_id": "SENS001",
		"firmware": "ignored",
		"readings": [
			{"sensor_name": "Channel 0", "status": "OK", "reading": 3.3, "unit": "V", "note": "Auto reading", "sensor_health": "Good", "sensor_specification": "ADS1115"},
			{"sensor_name": "Channel 1", "status": "OK", "reading": 1.2, "unit": "V", "sensor_health": null}
		]
	}`)

	b, err := DecodeBatch(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.SensorID != "SENS001" || b.DeviceID != "DEV001" {
		t.Fatalf("unexpected ids: %+v", b)
	}
	if len(b.Channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(b.Channels))
	}
	first := b.Channels[0]
	if first.Name != "Channel 0" || first.Value != 3.3 || first.Specification != "ADS1115" || first.Health != "Good" {
		t.Fatalf("unexpected first channel: %+v", first)
	}
	if b.Channels[1].Note != "" || b.Channels[1].Health != "" {
		t.Fatalf("expected optional fields to default to empty, got %+v", b.Channels[1])
	}
}

func TestDecodeBatchMissingReading(t *testing.T) {
	_, err := DecodeBatch([]byte(`{"sensor_id":"S1","readings":[{"sensor_name":"Temp"}]}`))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeBatchInvalidJSON(t *testing.T) {
	_, err := DecodeBatch([]byte(`{"sensor_id":`))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	up := NewUpstreamError("latest", cause)
	if !Retriable(up) {
		t.Fatalf("upstream errors must be retriable")
	}
	if !errors.Is(up, cause) {
		t.Fatalf("expected cause to stay reachable")
	}

	val := &ValidationError{Field: "sensor_id", Reason: "is unknown", Err: ErrSensorNotFound}
	if Retriable(val) {
		t.Fatalf("validation errors must not be retriable")
	}
	if !errors.Is(val, ErrSensorNotFound) || !errors.Is(val, ErrValidation) {
		t.Fatalf("expected validation error to match both sentinels")
	}
}
