// Package units converts canonical sensor values into display values.
// Everything here is pure; storage and transport always carry Celsius and
// normalized percentages.
package units

// DisplayTemperature converts a canonical Celsius temperature for display.
// When preferCelsius is false the value is converted to Fahrenheit.
func DisplayTemperature(celsius float64, preferCelsius bool) float64 {
	if preferCelsius {
		return celsius
	}
	return celsius*9/5 + 32
}

// DisplayBattery maps YoLink's discrete 0-4 battery scale to a percentage.
// Values outside the scale are assumed to already be percentages and pass
// through unchanged.
func DisplayBattery(level float64) float64 {
	switch level {
	case 0:
		return 0
	case 1:
		return 25
	case 2:
		return 50
	case 3:
		return 75
	case 4:
		return 100
	}
	return level
}
