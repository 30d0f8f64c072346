package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"jantaku-lite/mahjong"
)

// LoadCalibrations reads per-mode deviation constants from a YAML file:
//
//	yonma:
//	  baseline_avg_rank: 2.491
//	  avg_rank_spread: 0.0705
//
// Modes missing from the file keep the defaults.
func LoadCalibrations(path string) (mahjong.Calibrations, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file failed path=%s: %w", path, err)
	}
	return ParseCalibrations(raw)
}

func ParseCalibrations(raw []byte) (mahjong.Calibrations, error) {
	var parsed map[mahjong.Mode]mahjong.Calibration
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse calibration yaml failed: %w", err)
	}

	out := mahjong.DefaultCalibrations()
	for mode, cal := range parsed {
		if !mode.Valid() {
			return nil, fmt.Errorf("calibration for unknown mode %q", mode)
		}
		if err := cal.Validate(); err != nil {
			return nil, fmt.Errorf("calibration for %s: %w", mode, err)
		}
		out[mode] = cal
	}
	return out, nil
}
