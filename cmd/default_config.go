package cmd

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cellsim/cellsim/sim"
)

// PresetCatalogue represents the full defaults.yaml structure.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type PresetCatalogue struct {
	Version string                        `yaml:"version"`
	Presets map[string]sim.ExperimentSpec `yaml:"presets"`
}

// loadPresets parses the preset catalogue at path.
// Uses strict field checking: typos must cause errors.
func loadPresets(path string) (*PresetCatalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading defaults file: %w", err)
	}
	var cfg PresetCatalogue
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing defaults file %s: %w", path, err)
	}
	return &cfg, nil
}

// presetNames returns the catalogue's preset names in sorted order.
func (c *PresetCatalogue) presetNames() []string {
	names := make([]string, 0, len(c.Presets))
	for name := range c.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// presetsCmd lists the presets in the defaults file
var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List experiment presets from the defaults file",
	Run: func(cmd *cobra.Command, args []string) {
		cat, err := loadPresets(defaultsFilePath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		for _, name := range cat.presetNames() {
			p := cat.Presets[name]
			fmt.Printf("%-18s %4d cycles  %.2gC→%.4gV / %.2gC→%.4gV  %s\n",
				name, p.NumCycles, p.Charge.CRate, p.Charge.VMax,
				p.Discharge.CRate, p.Discharge.VMin, p.Description)
		}
	},
}
