package ports

import "github.com/parthCJ/Aarma-be/internal/domain"

// Collector delivers decoded batches from a field transport (MQTT, OPC UA, ...).
type Collector interface {
	Start(out chan<- *domain.Batch) error
	Stop() error
	Name() string
}
