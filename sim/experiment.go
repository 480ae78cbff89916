package sim

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ExperimentSpec is the on-disk description of a cycling run.
// Loaded from YAML via LoadExperimentSpec(path); also the shape of each
// preset in defaults.yaml.
type ExperimentSpec struct {
	Name         string            `yaml:"name,omitempty"`
	Description  string            `yaml:"description,omitempty"`
	OCV          []OCVPoint        `yaml:"ocv,omitempty"` // empty = DefaultOCVTable
	Degradation  DegradationModel  `yaml:"degradation"`
	Charge       ChargeProtocol    `yaml:"charge"`
	Discharge    DischargeProtocol `yaml:"discharge"`
	NumCycles    int               `yaml:"num_cycles"`
	Dt           float64           `yaml:"dt"`
	EOLThreshold float64           `yaml:"eol_threshold,omitempty"` // 0 = DefaultEOLThreshold

	AllowPartialWindow bool `yaml:"allow_partial_window,omitempty"`
}

// LoadExperimentSpec reads and parses a YAML experiment file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadExperimentSpec(path string) (*ExperimentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading experiment spec: %w", err)
	}
	return ParseExperimentSpec(data)
}

// ParseExperimentSpec decodes a YAML experiment document strictly.
func ParseExperimentSpec(data []byte) (*ExperimentSpec, error) {
	var spec ExperimentSpec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing experiment spec: %w", err)
	}
	return &spec, nil
}

// OCVCurve builds the experiment's OCV curve, falling back to the default table.
func (s *ExperimentSpec) OCVCurve() (*OCVCurve, error) {
	if len(s.OCV) == 0 {
		return NewOCVCurve(defaultOCVTable)
	}
	return NewOCVCurve(s.OCV)
}

// CycleConfig converts the experiment into an orchestrator config. Only the
// OCV table and the EOL threshold are checked here; NewCycleRunner or
// Validate check the rest.
func (s *ExperimentSpec) CycleConfig() (CycleConfig, error) {
	if math.IsNaN(s.EOLThreshold) || s.EOLThreshold < 0 || s.EOLThreshold > 100 {
		return CycleConfig{}, fmt.Errorf("eol_threshold must be in [0,100], got %v", s.EOLThreshold)
	}
	ocv, err := s.OCVCurve()
	if err != nil {
		return CycleConfig{}, err
	}
	cfg := NewCycleConfig(ocv, s.Degradation, s.Charge, s.Discharge, s.NumCycles, s.Dt)
	cfg.AllowPartialWindow = s.AllowPartialWindow
	return cfg, nil
}

// Validate checks that all fields in the experiment are usable.
func (s *ExperimentSpec) Validate() error {
	cfg, err := s.CycleConfig()
	if err != nil {
		return err
	}
	return cfg.Validate()
}
