package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayTemperature(t *testing.T) {
	assert.Equal(t, 32.0, DisplayTemperature(0, false))
	assert.Equal(t, 212.0, DisplayTemperature(100, false))
	assert.Equal(t, 98.6, DisplayTemperature(37, false))
	assert.Equal(t, -40.0, DisplayTemperature(-40, false))

	// celsius passes through untouched
	assert.Equal(t, 21.5, DisplayTemperature(21.5, true))
	assert.Equal(t, -10.0, DisplayTemperature(-10, true))
}

func TestDisplayBattery(t *testing.T) {
	scale := map[float64]float64{
		0: 0,
		1: 25,
		2: 50,
		3: 75,
		4: 100,
	}
	for in, want := range scale {
		assert.Equal(t, want, DisplayBattery(in))
	}

	// out-of-range values are already percentages
	assert.Equal(t, 87.0, DisplayBattery(87))
	assert.Equal(t, 4.5, DisplayBattery(4.5))
	assert.Equal(t, -1.0, DisplayBattery(-1))
}
