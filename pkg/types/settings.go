package types

import (
	"fmt"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 2

// Display units for temperatures. Canonical storage is always Celsius.
const (
	UnitCelsius    = "C"
	UnitFahrenheit = "F"
)

// Settings represents the configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	// Pause scheduled polling. Manual refreshes still work.
	Pause bool `json:"pause"`

	// DisplayUnit is the temperature unit the dashboard should render.
	DisplayUnit string `json:"displayUnit"`

	// ReportDefaultDays is the default lookback for temperature reports.
	ReportDefaultDays int `json:"reportDefaultDays"`
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial, default to Fahrenheit for display
			if s.DisplayUnit == "" {
				s.DisplayUnit = UnitFahrenheit
				migrated = true
			}
		case 2:
			// version 2: add report default lookback
			if s.ReportDefaultDays == 0 {
				s.ReportDefaultDays = 7
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
