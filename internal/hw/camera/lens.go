package camera

import (
	"fmt"
	"math"
)

// Lens describes the optics behind the simulated projection matrix.
type Lens struct {
	FocalLengthMm  float64
	SensorWidthMm  float64
	SensorHeightMm float64
}

// Validate rejects non-positive or non-finite dimensions.
func (l Lens) Validate() error {
	for name, v := range map[string]float64{
		"focal_length_mm":  l.FocalLengthMm,
		"sensor_width_mm":  l.SensorWidthMm,
		"sensor_height_mm": l.SensorHeightMm,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("lens %s must be > 0, got %g", name, v)
		}
	}
	return nil
}

// HorizontalFOV calculates the horizontal field of view in degrees.
// Formula: FOV = 2 × arctan(sensor_width / (2 × focal_length))
func (l Lens) HorizontalFOV() float64 {
	return 2.0 * math.Atan(l.SensorWidthMm/(2.0*l.FocalLengthMm)) * 180.0 / math.Pi
}

// VerticalFOV calculates the vertical field of view in degrees.
// Formula: FOV = 2 × arctan(sensor_height / (2 × focal_length))
func (l Lens) VerticalFOV() float64 {
	return 2.0 * math.Atan(l.SensorHeightMm/(2.0*l.FocalLengthMm)) * 180.0 / math.Pi
}
