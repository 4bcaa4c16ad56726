package logic

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAbsoluteHumidityGolden(t *testing.T) {
	tests := []struct {
		name string
		rh   float64
		temp float64
		unit TemperatureUnit
		want float64
	}{
		{"70% at 75F", 70, 75, Fahrenheit, 15.132146783086867},
		{"40% at 70F", 40, 70, Fahrenheit, 7.371940614298926},
		{"50% at 68F", 50, 68, Fahrenheit, 8.636887972025916},
		{"50% at 20C", 50, 20, Celsius, 8.636887972025916},
		{"100% at 0C", 100, 0, Celsius, 4.848533887678144},
		{"60% at 21C", 60, 21, Celsius, 10.986784604343377},
		{"0% is dry", 0, 25, Celsius, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AbsoluteHumidity(tt.rh, tt.temp, tt.unit)
			if !almostEqual(got, tt.want) {
				t.Errorf("AbsoluteHumidity(%v, %v, %s) = %v, want %v", tt.rh, tt.temp, tt.unit, got, tt.want)
			}
		})
	}
}

func TestAbsoluteHumidityIsDeterministic(t *testing.T) {
	first := AbsoluteHumidity(63.2, 77.9, Fahrenheit)
	for i := 0; i < 100; i++ {
		if got := AbsoluteHumidity(63.2, 77.9, Fahrenheit); got != first {
			t.Fatalf("iteration %d: got %v, want bit-identical %v", i, got, first)
		}
	}
}

func TestDifferentialExample(t *testing.T) {
	bath := Zone{Humidity: 70, Temperature: 75}
	living := Zone{Humidity: 40, Temperature: 70}

	d := Differential(bath, living, Fahrenheit)
	if !almostEqual(d, 7.760206168787941) {
		t.Errorf("differential: got %v, want 7.760206168787941", d)
	}
	if d <= 3.54 {
		t.Errorf("expected differential above 3.54, got %v", d)
	}
}

func TestDifferentialIsAntisymmetric(t *testing.T) {
	a := Zone{Humidity: 82, Temperature: 24}
	b := Zone{Humidity: 35, Temperature: 19}

	ab := Differential(a, b, Celsius)
	ba := Differential(b, a, Celsius)
	if ab != -ba {
		t.Errorf("expected Differential(a,b) == -Differential(b,a), got %v and %v", ab, ba)
	}
	if ab <= 0 {
		t.Errorf("wetter zone first should be positive, got %v", ab)
	}
	if Differential(a, a, Celsius) != 0 {
		t.Error("differential of a zone with itself should be zero")
	}
}

func TestFahrenheitAndCelsiusAgree(t *testing.T) {
	f := AbsoluteHumidity(55, 212, Fahrenheit)
	c := AbsoluteHumidity(55, 100, Celsius)
	if math.Abs(f-c) > 1e-9 {
		t.Errorf("212F and 100C should match: %v vs %v", f, c)
	}
}

func TestParseTemperatureUnit(t *testing.T) {
	tests := []struct {
		in      string
		want    TemperatureUnit
		wantErr bool
	}{
		{"", Fahrenheit, false},
		{"F", Fahrenheit, false},
		{"f", Fahrenheit, false},
		{" c ", Celsius, false},
		{"C", Celsius, false},
		{"K", "", true},
		{"celsius", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTemperatureUnit(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTemperatureUnit(%q): err=%v, wantErr=%v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTemperatureUnit(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
