package media

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Constraints selects which kinds of track an acquisition should produce.
type Constraints struct {
	Video bool
	Audio bool
}

// Acquirer opens capture devices.
type Acquirer interface {
	Acquire(ctx context.Context, c Constraints) (*Stream, error)
}

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const audioFrameDuration = 20 * time.Millisecond

// BT.601 colour bars: white, yellow, cyan, green, magenta, red, blue, black.
var colourBars = [8][3]byte{
	{235, 128, 128},
	{210, 16, 146},
	{170, 166, 16},
	{145, 54, 34},
	{106, 202, 222},
	{81, 90, 240},
	{41, 240, 110},
	{16, 128, 128},
}

// TestPatternDevice is a synthetic camera and microphone. The camera draws
// scrolling colour bars; the microphone emits Opus silence.
type TestPatternDevice struct {
	Width  int
	Height int
	FPS    int
	// Denied makes every acquisition fail as if the user refused access.
	Denied bool
}

// Acquire starts the requested tracks. They run until stopped.
func (d *TestPatternDevice) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Denied {
		return nil, ErrPermissionDenied
	}
	if !c.Video && !c.Audio {
		return nil, ErrNoDevice
	}

	stream := NewStream()

	if c.Video {
		w, h := d.Width, d.Height
		if w <= 0 || h <= 0 {
			w, h = 640, 480
		}
		fps := d.FPS
		if fps <= 0 {
			fps = 30
		}
		video := NewLocalVideoTrack(Settings{})
		stream.AddTrack(video)
		go runColourBars(video, w&^1, h&^1, fps)
	}

	if c.Audio {
		audio := NewLocalAudioTrack()
		stream.AddTrack(audio)
		go runSilence(audio)
	}

	logrus.WithFields(logrus.Fields{
		"stream": stream.ID(),
		"video":  c.Video,
		"audio":  c.Audio,
	}).Info("Test pattern capture started")

	return stream, nil
}

func runColourBars(track *LocalVideoTrack, width, height, fps int) {
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	var n int
	for {
		frame := drawColourBars(width, height, n)
		if n == 0 {
			track.MarkReady(Settings{Width: width, Height: height})
		}
		track.Publish(frame)
		n++

		select {
		case <-ticker.C:
		case <-track.Done():
			return
		}
	}
}

func drawColourBars(width, height, offset int) *VideoFrame {
	frame, err := NewVideoFrame(uint16(width), uint16(height))
	if err != nil {
		return nil
	}

	barWidth := width / len(colourBars)
	if barWidth == 0 {
		barWidth = 1
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			bar := colourBars[((x+offset)/barWidth)%len(colourBars)]
			frame.Y[y*frame.YStride+x] = bar[0]
			if y%2 == 0 && x%2 == 0 {
				ci := (y/2)*frame.UStride + x/2
				frame.U[ci] = bar[1]
				frame.V[ci] = bar[2]
			}
		}
	}
	return frame
}

func runSilence(track *LocalAudioTrack) {
	ticker := time.NewTicker(audioFrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			track.Write(Sample{Data: opusSilence, Duration: audioFrameDuration})
		case <-track.Done():
			return
		}
	}
}
