// Package units converts odometer velocity into display speed units.
package units

import (
	"fmt"
	"strings"
)

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Unknown units are returned as m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// TicksPerMilliToMPS converts an odometer velocity in ticks per millisecond
// to meters per second. ticksPerMeter <= 0 yields 0.
func TicksPerMilliToMPS(ticksPerMilli, ticksPerMeter float64) float64 {
	if ticksPerMeter <= 0 {
		return 0
	}
	return ticksPerMilli * 1000 / ticksPerMeter
}

// TicksToMeters converts an odometer tick count to a distance in meters.
func TicksToMeters(ticks int64, ticksPerMeter float64) float64 {
	if ticksPerMeter <= 0 {
		return 0
	}
	return float64(ticks) / ticksPerMeter
}

// FormatSpeed renders a ticks/ms velocity in the given units, e.g. "3.42 mph".
func FormatSpeed(ticksPerMilli, ticksPerMeter float64, unit string) string {
	if !IsValid(unit) {
		unit = MPS
	}
	v := ConvertSpeed(TicksPerMilliToMPS(ticksPerMilli, ticksPerMeter), unit)
	return fmt.Sprintf("%.2f %s", v, unit)
}
