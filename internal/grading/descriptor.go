package grading

import "fmt"

// Descriptor is the ordered set of transform magnitudes applied to each
// outgoing video frame: brightness, contrast, saturation, then hue rotation.
type Descriptor struct {
	Brightness float64 // multiplier, 1 = neutral
	Contrast   float64 // multiplier, 1 = neutral
	Saturation float64 // multiplier, 1 = neutral
	HueRotate  float64 // degrees
}

// Neutral is the descriptor of the default state.
var Neutral = Descriptor{Brightness: 1, Contrast: 1, Saturation: 1}

// Compute maps a grading state to its descriptor. Exposure is folded into
// brightness and contrast; warmer temperature rotates hue negatively.
//
// The arithmetic is done on integers before the final division so equal
// states always produce bit-identical descriptors.
func Compute(s State) Descriptor {
	s = s.Clamp()
	// b/100 * (1 + e*0.005) and c/100 * (1 + e*0.003)
	brightness := float64(s.Brightness*(200+s.Exposure)) / 20000
	contrast := float64(s.Contrast*(1000+3*s.Exposure)) / 100000
	// -t*0.6 + tint*0.4
	hue := float64(-6*s.Temperature+4*s.Tint) / 10
	return Descriptor{
		Brightness: brightness,
		Contrast:   contrast,
		Saturation: float64(s.Saturation) / 100,
		HueRotate:  hue,
	}
}

// IsNeutral reports whether applying d leaves a frame unchanged.
func (d Descriptor) IsNeutral() bool {
	return d == Neutral
}

// String renders the descriptor in its fixed order, e.g.
// "brightness(1.000) contrast(1.000) saturate(1.000) hue-rotate(0.0deg)".
func (d Descriptor) String() string {
	return fmt.Sprintf("brightness(%.3f) contrast(%.3f) saturate(%.3f) hue-rotate(%.1fdeg)",
		d.Brightness, d.Contrast, d.Saturation, d.HueRotate)
}
