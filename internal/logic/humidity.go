package logic

import (
	"fmt"
	"math"
	"strings"
)

// TemperatureUnit is the scale sensor temperatures are reported in.
type TemperatureUnit string

const (
	Fahrenheit TemperatureUnit = "F"
	Celsius    TemperatureUnit = "C"
)

// ParseTemperatureUnit accepts "F" or "C" in any case. Empty defaults to Fahrenheit.
func ParseTemperatureUnit(s string) (TemperatureUnit, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "F":
		return Fahrenheit, nil
	case "C":
		return Celsius, nil
	}
	return "", fmt.Errorf("unknown temperature unit %q (want F or C)", s)
}

// Magnus approximation constants and the specific gas constant for water vapour.
const (
	magnusA       = 6.112 // hPa
	magnusB       = 17.67
	magnusC       = 243.5 // °C
	gasConstWater = 461.5 // J/(kg·K)
)

// Zone is a relative humidity / temperature pair for one area.
type Zone struct {
	Humidity    float64 // % RH, 0-100
	Temperature float64 // in the configured unit
}

// AbsoluteHumidity converts relative humidity and temperature to g/m³.
func AbsoluteHumidity(relativeHumidity, temperature float64, unit TemperatureUnit) float64 {
	var celsius, kelvin float64
	if unit == Fahrenheit {
		kelvin = (temperature-32)*5/9 + 273.15
		celsius = (temperature - 32) / 1.8
	} else {
		kelvin = temperature + 273.15
		celsius = temperature
	}

	saturation := magnusA * math.Exp((magnusB*celsius)/(celsius+magnusC)) * 100 // Pa
	actual := (relativeHumidity / 100) * saturation
	return (actual / (gasConstWater * kelvin)) * 1000
}

// Differential returns absHumidity(a) - absHumidity(b). Positive means a is wetter.
func Differential(a, b Zone, unit TemperatureUnit) float64 {
	return AbsoluteHumidity(a.Humidity, a.Temperature, unit) - AbsoluteHumidity(b.Humidity, b.Temperature, unit)
}
