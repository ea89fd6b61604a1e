package aarma

import (
	"github.com/parthCJ/Aarma-be/internal/adapters/mqtt"
	"github.com/parthCJ/Aarma-be/internal/adapters/opcua"
	"github.com/parthCJ/Aarma-be/internal/app/config"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls WAL, queue and worker behaviour.
	Policy = ports.Policy
	// IngestConfig holds the change threshold and directory check switch.
	IngestConfig = config.IngestConfig
	// StoreConfig selects and configures the reading store.
	StoreConfig = config.StoreConfig
	// MQTTConfig configures the MQTT collector.
	MQTTConfig = mqtt.Config
	// OPCUAConfig holds connection and node details.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig maps a monitored tag to a sensor channel.
	OPCUANodeConfig = opcua.NodeConfig
	HTTPConfig      = config.HTTPConfig
	MetricsConfig   = config.MetricsConfig
	// WALConfig configures on-disk durability.
	WALConfig = config.WALConfig
	LogConfig = config.LogConfig
)

// LoadConfig reads YAML from disk, merges .env and AARMA_* overrides, and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig is LoadConfig for an in-memory document.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
