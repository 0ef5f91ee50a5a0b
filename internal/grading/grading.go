// Package grading holds the live colour-grading parameters of a call and
// derives the transform descriptor the frame pipeline draws with.
package grading

import "sync/atomic"

// Parameter bounds. Brightness, contrast and saturation are percentages
// where 100 is neutral; the hue biases are centred on zero.
const (
	MinLevel = 0
	MaxLevel = 200
	MinBias  = -100
	MaxBias  = 100

	DefaultLevel = 100
	DefaultBias  = 0
)

// State is one complete set of grading parameters.
type State struct {
	Brightness  int `json:"brightness"`
	Contrast    int `json:"contrast"`
	Saturation  int `json:"saturation"`
	Temperature int `json:"temperature"`
	Tint        int `json:"tint"`
	Exposure    int `json:"exposure"`
}

// Update carries the fields of a partial state change. Nil fields are left
// untouched.
type Update struct {
	Brightness  *int `json:"brightness,omitempty"`
	Contrast    *int `json:"contrast,omitempty"`
	Saturation  *int `json:"saturation,omitempty"`
	Temperature *int `json:"temperature,omitempty"`
	Tint        *int `json:"tint,omitempty"`
	Exposure    *int `json:"exposure,omitempty"`
}

// Defaults returns the neutral grading state.
func Defaults() State {
	return State{
		Brightness:  DefaultLevel,
		Contrast:    DefaultLevel,
		Saturation:  DefaultLevel,
		Temperature: DefaultBias,
		Tint:        DefaultBias,
		Exposure:    DefaultBias,
	}
}

// FromValues builds a state from the six preset values in field order:
// brightness, contrast, saturation, temperature, tint, exposure.
func FromValues(v [6]int) State {
	return State{
		Brightness:  v[0],
		Contrast:    v[1],
		Saturation:  v[2],
		Temperature: v[3],
		Tint:        v[4],
		Exposure:    v[5],
	}.Clamp()
}

// Values returns the state as six values in preset order.
func (s State) Values() [6]int {
	return [6]int{s.Brightness, s.Contrast, s.Saturation, s.Temperature, s.Tint, s.Exposure}
}

// Clamp returns a copy of s with every field forced into its range.
func (s State) Clamp() State {
	s.Brightness = clamp(s.Brightness, MinLevel, MaxLevel)
	s.Contrast = clamp(s.Contrast, MinLevel, MaxLevel)
	s.Saturation = clamp(s.Saturation, MinLevel, MaxLevel)
	s.Temperature = clamp(s.Temperature, MinBias, MaxBias)
	s.Tint = clamp(s.Tint, MinBias, MaxBias)
	s.Exposure = clamp(s.Exposure, MinBias, MaxBias)
	return s
}

// Merge applies the supplied fields of u on top of s.
func (s State) Merge(u Update) State {
	if u.Brightness != nil {
		s.Brightness = *u.Brightness
	}
	if u.Contrast != nil {
		s.Contrast = *u.Contrast
	}
	if u.Saturation != nil {
		s.Saturation = *u.Saturation
	}
	if u.Temperature != nil {
		s.Temperature = *u.Temperature
	}
	if u.Tint != nil {
		s.Tint = *u.Tint
	}
	if u.Exposure != nil {
		s.Exposure = *u.Exposure
	}
	return s.Clamp()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Model owns the grading state for one call session. It has a single writer
// (the grading controls) and any number of readers; every write replaces the
// whole state so readers never observe a half-applied change.
type Model struct {
	state atomic.Pointer[State]
}

// NewModel returns a model holding the default state.
func NewModel() *Model {
	m := &Model{}
	m.Reset()
	return m
}

// State returns the latest committed state.
func (m *Model) State() State {
	return *m.state.Load()
}

// SetState merges the supplied fields into the current state.
func (m *Model) SetState(u Update) State {
	for {
		cur := m.state.Load()
		next := cur.Merge(u)
		if m.state.CompareAndSwap(cur, &next) {
			return next
		}
	}
}

// ApplyPreset overwrites all six fields at once.
func (m *Model) ApplyPreset(values [6]int) State {
	next := FromValues(values)
	m.state.Store(&next)
	return next
}

// Reset restores the defaults.
func (m *Model) Reset() State {
	next := Defaults()
	m.state.Store(&next)
	return next
}

// Descriptor derives the transform descriptor of the current state.
func (m *Model) Descriptor() Descriptor {
	return Compute(m.State())
}

// Int returns a pointer to v, for building an Update.
func Int(v int) *int {
	return &v
}
