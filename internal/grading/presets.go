package grading

import "strings"

// Preset is a named set of six grading values.
type Preset struct {
	Name   string
	Values [6]int
}

// Presets lists the quick presets offered next to the grading controls.
var Presets = []Preset{
	{Name: "Natural", Values: [6]int{105, 110, 105, 5, 0, 5}},
	{Name: "Cinematic", Values: [6]int{95, 130, 90, -10, 5, -10}},
	{Name: "Vibrant", Values: [6]int{110, 120, 140, 10, 0, 10}},
	{Name: "Moody", Values: [6]int{85, 140, 80, -15, 10, -15}},
}

// PresetByName looks up a preset, ignoring case.
func PresetByName(name string) (Preset, bool) {
	for _, p := range Presets {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Preset{}, false
}
