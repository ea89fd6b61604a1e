// Package httpapi serves batch ingestion, the reading query surface and the
// sensor registry over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/parthCJ/Aarma-be/internal/core/ingest"
	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

const maxBodyBytes = 1 << 20

// Submitter queues a batch for asynchronous ingestion.
type Submitter interface {
	Submit(ctx context.Context, b *domain.Batch) (ports.WALEntryID, error)
}

// ErrBackpressure should be wrapped by Submitter errors that mean "try later".
var ErrBackpressure = errors.New("ingest queue saturated")

type Handler struct {
	ingester  ingest.Ingester
	store     ports.ReadingStore
	querier   ports.ReadingQuerier
	registry  ports.SensorRegistry
	directory ports.SensorDirectory
	submitter Submitter
	timeout   time.Duration
	log       *slog.Logger
	mux       *http.ServeMux
}

type Option func(*Handler)

func WithQuerier(q ports.ReadingQuerier) Option { return func(h *Handler) { h.querier = q } }
func WithRegistry(r ports.SensorRegistry) Option { return func(h *Handler) { h.registry = r } }
func WithSubmitter(s Submitter) Option { return func(h *Handler) { h.submitter = s } }

// WithDirectory makes asynchronous submissions check the sensor before they
// are queued.
func WithDirectory(d ports.SensorDirectory) Option { return func(h *Handler) { h.directory = d } }
func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.log = l } }
func WithRequestTimeout(d time.Duration) Option { return func(h *Handler) { h.timeout = d } }

func New(ing ingest.Ingester, store ports.ReadingStore, opts ...Option) *Handler {
	h := &Handler{ingester: ing, store: store, log: slog.Default(), mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("POST /sensors/sensor-data", h.postSensorData)
	h.mux.HandleFunc("GET /sensors/sensor-data/filter", h.filterSensorData)
	h.mux.HandleFunc("GET /sensors/{sensor_id}/last-data", h.lastData)

	if h.registry != nil {
		h.mux.HandleFunc("POST /sensors", h.registerSensor)
		h.mux.HandleFunc("GET /sensors/{sensor_id}", h.getSensor)
		h.mux.HandleFunc("PATCH /sensors/{sensor_id}", h.updateSensor)
		h.mux.HandleFunc("DELETE /sensors/{sensor_id}", h.deactivateSensor)
		h.mux.HandleFunc("GET /sensors/{sensor_id}/history", h.sensorHistory)
	}
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}
	h.mux.ServeHTTP(w, r)
}

type ingestResponse struct {
	Persisted bool          `json:"persisted"`
	Reason    string        `json:"reason,omitempty"`
	Batch     *domain.Batch `json:"batch,omitempty"`
	Kept      int           `json:"kept"`
	Evaluated int           `json:"evaluated"`
}

func (h *Handler) postSensorData(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	b, err := domain.DecodeBatch(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.submitAsync(w, r, b)
		return
	}

	res, err := h.ingester.Ingest(r.Context(), b)
	if err != nil {
		h.writeIngestError(w, b, err)
		return
	}
	status := http.StatusOK
	if res.Persisted {
		status = http.StatusCreated
	}
	writeJSON(w, status, ingestResponse{
		Persisted: res.Persisted,
		Reason:    res.Reason,
		Batch:     res.Batch,
		Kept:      res.Kept,
		Evaluated: res.Evaluated,
	})
}

func (h *Handler) submitAsync(w http.ResponseWriter, r *http.Request, b *domain.Batch) {
	if h.submitter == nil {
		writeError(w, http.StatusNotImplemented, errors.New("asynchronous ingestion is not enabled"))
		return
	}
	if err := ingest.Validate(b); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if h.directory != nil {
		if err := ingest.CheckSensor(r.Context(), h.directory, b.SensorID); err != nil {
			h.writeIngestError(w, b, err)
			return
		}
	}
	id, err := h.submitter.Submit(r.Context(), b)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrBackpressure) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "wal_id": uint64(id)})
}

func (h *Handler) writeIngestError(w http.ResponseWriter, b *domain.Batch, err error) {
	switch {
	case errors.Is(err, domain.ErrSensorNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrUpstreamUnavailable):
		h.log.Warn("ingest unavailable", slog.String("sensor_id", b.SensorID), slog.Any("err", err))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		h.log.Error("ingest failed", slog.String("sensor_id", b.SensorID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) lastData(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sensor_id")
	b, err := h.store.Latest(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no data for sensor %q", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type filterResponse struct {
	Count   int            `json:"count"`
	Results []domain.Batch `json:"results"`
}

func (h *Handler) filterSensorData(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		writeError(w, http.StatusNotImplemented, errors.New("the configured store does not support queries"))
		return
	}
	q := r.URL.Query()
	f := ports.ReadingFilter{
		SensorID:    q.Get("sensor_id"),
		DeviceID:    q.Get("device_id"),
		ChannelName: q.Get("sensor_name"),
	}
	var err error
	if f.From, err = parseTime(q.Get("start_date")); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("start_date: %w", err))
		return
	}
	end, err := parseTime(q.Get("end_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("end_date: %w", err))
		return
	}
	if !end.IsZero() {
		// end_date is inclusive on the wire.
		f.To = end.Add(time.Nanosecond)
	}

	results, err := h.querier.Find(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if results == nil {
		results = []domain.Batch{}
	}
	writeJSON(w, http.StatusOK, filterResponse{Count: len(results), Results: results})
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

type sensorRequest struct {
	SensorID string   `json:"sensor_id"`
	Devices  []string `json:"devices"`
}

func (h *Handler) registerSensor(w http.ResponseWriter, r *http.Request) {
	var req sensorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SensorID == "" {
		writeError(w, http.StatusBadRequest, domain.NewValidationError("sensor_id", "is required"))
		return
	}
	s, err := h.registry.Register(r.Context(), domain.Sensor{SensorID: req.SensorID, Devices: req.Devices})
	if errors.Is(err, domain.ErrAlreadyExists) {
		writeError(w, http.StatusConflict, fmt.Errorf("sensor %q already exists", req.SensorID))
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) getSensor(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(r.Context(), r.PathValue("sensor_id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) updateSensor(w http.ResponseWriter, r *http.Request) {
	var req sensorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Devices == nil {
		writeError(w, http.StatusBadRequest, domain.NewValidationError("devices", "is required"))
		return
	}
	s, err := h.registry.UpdateDevices(r.Context(), r.PathValue("sensor_id"), req.Devices)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) deactivateSensor(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Deactivate(r.Context(), r.PathValue("sensor_id")); err != nil {
		writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sensorHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.registry.History(r.Context(), r.PathValue("sensor_id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	if hist == nil {
		hist = []domain.SensorUpdate{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func writeRegistryError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, errors.New("sensor not found"))
		return
	}
	writeError(w, http.StatusServiceUnavailable, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
