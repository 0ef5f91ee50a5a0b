package peer

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/gradecall/internal/media"
)

// FrameEncoder turns raw frames into samples for an outgoing video track.
type FrameEncoder interface {
	MimeType() string
	Encode(frame *media.VideoFrame) ([]byte, error)
}

// FrameDecoder turns reassembled samples from an incoming video track back
// into raw frames.
type FrameDecoder interface {
	Decode(data []byte) (*media.VideoFrame, error)
}

// I420Packer passes raw I420 planes through as-is under the VP8 payload
// format. Samples are [width:2][height:2][Y][U][V] with little-endian
// dimensions.
type I420Packer struct{}

func (I420Packer) MimeType() string {
	return webrtc.MimeTypeVP8
}

func (I420Packer) Encode(frame *media.VideoFrame) ([]byte, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	w, h := int(frame.Width), int(frame.Height)
	cw, ch := w/2, h/2
	data := make([]byte, 4, 4+w*h+2*cw*ch)
	data[0] = byte(frame.Width)
	data[1] = byte(frame.Width >> 8)
	data[2] = byte(frame.Height)
	data[3] = byte(frame.Height >> 8)

	for y := 0; y < h; y++ {
		data = append(data, frame.Y[y*frame.YStride:y*frame.YStride+w]...)
	}
	for y := 0; y < ch; y++ {
		data = append(data, frame.U[y*frame.UStride:y*frame.UStride+cw]...)
	}
	for y := 0; y < ch; y++ {
		data = append(data, frame.V[y*frame.VStride:y*frame.VStride+cw]...)
	}
	return data, nil
}

func (I420Packer) Decode(data []byte) (*media.VideoFrame, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("sample too short: %d bytes", len(data))
	}
	width := uint16(data[0]) | uint16(data[1])<<8
	height := uint16(data[2]) | uint16(data[3])<<8

	frame, err := media.NewVideoFrame(width, height)
	if err != nil {
		return nil, err
	}
	want := 4 + len(frame.Y) + len(frame.U) + len(frame.V)
	if len(data) != want {
		return nil, fmt.Errorf("sample size mismatch: expected %d bytes for %dx%d, got %d",
			want, width, height, len(data))
	}

	offset := 4
	offset += copy(frame.Y, data[offset:])
	offset += copy(frame.U, data[offset:])
	copy(frame.V, data[offset:])
	return frame, nil
}
