package rig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultTickRate is the simulation step rate assumed when the config does
// not set one. The simulator runs fixed-step at 20 Hz (0.05 s per tick).
const DefaultTickRate = 20

// TrafficConfig carries traffic density parameters. The core does not
// spawn traffic; these values pass through opaquely to the simulation
// collaborator and into the scene report.
type TrafficConfig struct {
	NumVehicles    int   `yaml:"num_vehicles"`
	NumPedestrians int   `yaml:"num_pedestrians"`
	Seed           *int  `yaml:"seed,omitempty"`
	CarLightsOn    bool  `yaml:"car_lights_on,omitempty"`
	SafeSpawn      *bool `yaml:"safe_spawn,omitempty"`
}

// SimulationConfig holds the per-run scene parameters.
type SimulationConfig struct {
	NumScenes       int           `yaml:"num_scenes"`
	SecondsPerScene int           `yaml:"seconds_per_scene"`
	TickRate        int           `yaml:"tick_rate,omitempty"`
	BaseSavePath    string        `yaml:"base_save_path"`
	Traffic         TrafficConfig `yaml:"traffic,omitempty"`
}

// TicksPerScene derives the step count for one scene.
func (s SimulationConfig) TicksPerScene() int {
	rate := s.TickRate
	if rate <= 0 {
		rate = DefaultTickRate
	}
	return s.SecondsPerScene * rate
}

// Config is the full rig configuration file. The GUI editor and simulator
// bootstrap own its authoring; the core only reads it.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Sensors    []SensorSpec     `yaml:"sensors"`
}

// LoadConfig reads and validates a YAML rig configuration.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}
	cfg, err := ParseConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig parses and validates YAML config bytes.
func ParseConfig(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the whole configuration. Faults here are structural and
// abort the run before any capture starts.
func (c *Config) Validate() error {
	if c.Simulation.NumScenes <= 0 {
		return fmt.Errorf("%w: num_scenes must be positive", ErrConfiguration)
	}
	if c.Simulation.SecondsPerScene <= 0 {
		return fmt.Errorf("%w: seconds_per_scene must be positive", ErrConfiguration)
	}
	if c.Simulation.TickRate < 0 {
		return fmt.Errorf("%w: tick_rate must not be negative", ErrConfiguration)
	}
	if c.Simulation.BaseSavePath == "" {
		return fmt.Errorf("%w: base_save_path is required", ErrConfiguration)
	}
	if c.Simulation.Traffic.NumVehicles < 0 || c.Simulation.Traffic.NumPedestrians < 0 {
		return fmt.Errorf("%w: traffic counts must not be negative", ErrConfiguration)
	}
	return ValidateSpecs(c.Sensors)
}

// ExpandedSensors returns the sensor list with paired instance cameras
// synthesized for every bbox-collecting camera, validated as a whole.
func (c *Config) ExpandedSensors() ([]SensorSpec, error) {
	expanded := ExpandSpecs(c.Sensors)
	if err := ValidateSpecs(expanded); err != nil {
		return nil, err
	}
	return expanded, nil
}
