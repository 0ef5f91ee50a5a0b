package pipeline

import (
	"fmt"
	"math"

	"github.com/mossy-p/gradecall/internal/grading"
	"github.com/mossy-p/gradecall/internal/media"
)

// Effect adjusts a frame in place.
type Effect interface {
	Apply(frame *media.VideoFrame)
	Name() string
}

// Chain applies effects in order to a private copy of each frame.
type Chain struct {
	effects []Effect
}

// ChainFor builds the effect chain for a descriptor, in descriptor order:
// brightness, contrast, saturation, hue rotation. Neutral steps are left out.
func ChainFor(d grading.Descriptor) *Chain {
	c := &Chain{}
	if d.Brightness != 1 {
		c.effects = append(c.effects, BrightnessEffect{Factor: d.Brightness})
	}
	if d.Contrast != 1 {
		c.effects = append(c.effects, ContrastEffect{Factor: d.Contrast})
	}
	if d.Saturation != 1 {
		c.effects = append(c.effects, SaturationEffect{Factor: d.Saturation})
	}
	if d.HueRotate != 0 {
		c.effects = append(c.effects, HueRotateEffect{Degrees: d.HueRotate})
	}
	return c
}

// Len returns the number of effects in the chain.
func (c *Chain) Len() int {
	return len(c.effects)
}

// Apply processes a copy of frame through every effect.
func (c *Chain) Apply(frame *media.VideoFrame) (*media.VideoFrame, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	out := frame.Clone()
	for _, e := range c.effects {
		e.Apply(out)
	}
	return out, nil
}

// BrightnessEffect scales luminance and chroma linearly, like multiplying
// every RGB channel by Factor.
type BrightnessEffect struct {
	Factor float64
}

func (e BrightnessEffect) Apply(f *media.VideoFrame) {
	lut := buildLUT(func(v float64) float64 { return v * e.Factor })
	applyLuma(f, lut)
	applyChroma(f, e.Factor, 0)
}

func (e BrightnessEffect) Name() string {
	return fmt.Sprintf("Brightness(%.3f)", e.Factor)
}

// ContrastEffect stretches values around the midpoint.
type ContrastEffect struct {
	Factor float64
}

func (e ContrastEffect) Apply(f *media.VideoFrame) {
	const midpoint = 128.0
	lut := buildLUT(func(v float64) float64 { return midpoint + (v-midpoint)*e.Factor })
	applyLuma(f, lut)
	applyChroma(f, e.Factor, 0)
}

func (e ContrastEffect) Name() string {
	return fmt.Sprintf("Contrast(%.3f)", e.Factor)
}

// SaturationEffect scales chroma only; zero gives greyscale.
type SaturationEffect struct {
	Factor float64
}

func (e SaturationEffect) Apply(f *media.VideoFrame) {
	applyChroma(f, e.Factor, 0)
}

func (e SaturationEffect) Name() string {
	return fmt.Sprintf("Saturate(%.3f)", e.Factor)
}

// HueRotateEffect rotates the chroma vector by Degrees.
type HueRotateEffect struct {
	Degrees float64
}

func (e HueRotateEffect) Apply(f *media.VideoFrame) {
	applyChroma(f, 1, e.Degrees)
}

func (e HueRotateEffect) Name() string {
	return fmt.Sprintf("HueRotate(%.1fdeg)", e.Degrees)
}

func buildLUT(fn func(float64) float64) *[256]byte {
	var lut [256]byte
	for i := range lut {
		lut[i] = clampByte(fn(float64(i)))
	}
	return &lut
}

func applyLuma(f *media.VideoFrame, lut *[256]byte) {
	w, h := int(f.Width), int(f.Height)
	for y := 0; y < h; y++ {
		row := f.Y[y*f.YStride : y*f.YStride+w]
		for x, v := range row {
			row[x] = lut[v]
		}
	}
}

// applyChroma scales the (U, V) offset from neutral by scale and rotates
// it by degrees.
func applyChroma(f *media.VideoFrame, scale, degrees float64) {
	rad := degrees * math.Pi / 180
	cos, sin := math.Cos(rad)*scale, math.Sin(rad)*scale

	cw, ch := (int(f.Width)+1)/2, (int(f.Height)+1)/2
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			ui := y*f.UStride + x
			vi := y*f.VStride + x
			u := float64(f.U[ui]) - 128
			v := float64(f.V[vi]) - 128
			f.U[ui] = clampByte(128 + u*cos - v*sin)
			f.V[vi] = clampByte(128 + u*sin + v*cos)
		}
	}
}

func clampByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v + 0.5)
}

// fit resizes frame to width x height with nearest-neighbour sampling.
func fit(frame *media.VideoFrame, width, height int) (*media.VideoFrame, error) {
	if int(frame.Width) == width && int(frame.Height) == height {
		return frame, nil
	}
	out, err := media.NewVideoFrame(uint16(width), uint16(height))
	if err != nil {
		return nil, err
	}

	sw, sh := int(frame.Width), int(frame.Height)
	for y := 0; y < height; y++ {
		sy := y * sh / height
		for x := 0; x < width; x++ {
			sx := x * sw / width
			out.Y[y*out.YStride+x] = frame.Y[sy*frame.YStride+sx]
		}
	}

	cw, ch := width/2, height/2
	scw, sch := (sw+1)/2, (sh+1)/2
	for y := 0; y < ch; y++ {
		sy := y * sch / ch
		for x := 0; x < cw; x++ {
			sx := x * scw / cw
			out.U[y*out.UStride+x] = frame.U[sy*frame.UStride+sx]
			out.V[y*out.VStride+x] = frame.V[sy*frame.VStride+sx]
		}
	}
	return out, nil
}

// Render draws frame onto a width x height surface with d applied.
func Render(frame *media.VideoFrame, d grading.Descriptor, width, height int) (*media.VideoFrame, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	out, err := ChainFor(d).Apply(frame)
	if err != nil {
		return nil, err
	}
	return fit(out, width, height)
}
