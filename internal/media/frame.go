// Package media models live captures: streams made of audio and video
// tracks, raw I420 video frames, and the devices that produce them.
package media

import "fmt"

// VideoFrame is one I420 (YUV 4:2:0 planar) picture.
type VideoFrame struct {
	Width   uint16
	Height  uint16
	Y       []byte // Luminance plane
	U       []byte // Chrominance U plane
	V       []byte // Chrominance V plane
	YStride int
	UStride int
	VStride int
}

// NewVideoFrame allocates a mid-grey frame of the given even dimensions.
func NewVideoFrame(width, height uint16) (*VideoFrame, error) {
	if width == 0 || height == 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", width, height)
	}

	w, h := int(width), int(height)
	f := &VideoFrame{
		Width:   width,
		Height:  height,
		Y:       make([]byte, w*h),
		U:       make([]byte, (w/2)*(h/2)),
		V:       make([]byte, (w/2)*(h/2)),
		YStride: w,
		UStride: w / 2,
		VStride: w / 2,
	}
	for i := range f.U {
		f.U[i] = 128
		f.V[i] = 128
	}
	return f, nil
}

// Clone returns a deep copy of the frame.
func (f *VideoFrame) Clone() *VideoFrame {
	return &VideoFrame{
		Width:   f.Width,
		Height:  f.Height,
		YStride: f.YStride,
		UStride: f.UStride,
		VStride: f.VStride,
		Y:       append([]byte(nil), f.Y...),
		U:       append([]byte(nil), f.U...),
		V:       append([]byte(nil), f.V...),
	}
}

// Validate checks that the planes are large enough for the dimensions.
func (f *VideoFrame) Validate() error {
	if f == nil {
		return fmt.Errorf("frame cannot be nil")
	}
	w, h := int(f.Width), int(f.Height)
	if w == 0 || h == 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", w, h)
	}
	if f.YStride < w || len(f.Y) < f.YStride*h {
		return fmt.Errorf("Y plane too small for %dx%d", w, h)
	}
	cw, ch := (w+1)/2, (h+1)/2
	if f.UStride < cw || len(f.U) < f.UStride*ch {
		return fmt.Errorf("U plane too small for %dx%d", w, h)
	}
	if f.VStride < cw || len(f.V) < f.VStride*ch {
		return fmt.Errorf("V plane too small for %dx%d", w, h)
	}
	return nil
}
