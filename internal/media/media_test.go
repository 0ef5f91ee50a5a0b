package media

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVideoFrame(t *testing.T) {
	f, err := NewVideoFrame(4, 2)
	require.NoError(t, err)
	assert.Len(t, f.Y, 8)
	assert.Len(t, f.U, 2)
	assert.Len(t, f.V, 2)
	assert.Equal(t, []byte{128, 128}, f.U)
	assert.NoError(t, f.Validate())

	_, err = NewVideoFrame(3, 2)
	assert.Error(t, err)
	_, err = NewVideoFrame(0, 2)
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	f, err := NewVideoFrame(2, 2)
	require.NoError(t, err)
	assert.Equal(t, byte(235), drawColourBars(16, 2, 0).Y[0])

	c := f.Clone()
	c.Y[0] = 99
	assert.Equal(t, byte(0), f.Y[0])
}

func TestLocalVideoTrackFrames(t *testing.T) {
	track := NewLocalVideoTrack(Settings{})
	_, err := track.CurrentFrame()
	assert.ErrorIs(t, err, ErrNoFrame)

	f1, _ := NewVideoFrame(2, 2)
	f2, _ := NewVideoFrame(2, 2)
	track.Publish(f1)

	got, seq, err := track.NextFrame(context.Background(), 0)
	require.NoError(t, err)
	assert.Same(t, f1, got)

	go func() {
		time.Sleep(20 * time.Millisecond)
		track.Publish(f2)
	}()
	got, _, err = track.NextFrame(context.Background(), seq)
	require.NoError(t, err)
	assert.Same(t, f2, got)

	track.Stop()
	track.Stop()
	assert.True(t, track.Ended())
	_, _, err = track.NextFrame(context.Background(), seq+1)
	assert.ErrorIs(t, err, ErrTrackEnded)
	_, err = track.CurrentFrame()
	assert.ErrorIs(t, err, ErrTrackEnded)
}

func TestStreamTracks(t *testing.T) {
	v := NewLocalVideoTrack(Settings{Width: 2, Height: 2})
	a := NewLocalAudioTrack()
	s := NewStream(v)
	s.AddTrack(a)
	s.AddTrack(a)

	assert.Len(t, s.Tracks(), 2)
	assert.Len(t, s.VideoTracks(), 1)
	assert.Len(t, s.AudioTracks(), 1)
	assert.True(t, s.Active())

	s.Stop()
	assert.False(t, s.Active())
	assert.True(t, v.Ended())
	assert.True(t, a.Ended())
}

func TestTestPatternDevice(t *testing.T) {
	ctx := context.Background()

	dev := &TestPatternDevice{Width: 32, Height: 16, FPS: 50}
	stream, err := dev.Acquire(ctx, Constraints{Video: true, Audio: true})
	require.NoError(t, err)
	defer stream.Stop()

	require.Len(t, stream.VideoTracks(), 1)
	video := stream.VideoTracks()[0]

	select {
	case <-video.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("camera never became ready")
	}
	assert.Equal(t, Settings{Width: 32, Height: 16}, video.Settings())

	frame, err := video.CurrentFrame()
	require.NoError(t, err)
	assert.NoError(t, frame.Validate())
	assert.Equal(t, uint16(32), frame.Width)
	assert.Equal(t, uint16(16), frame.Height)

	audio := stream.AudioTracks()[0].(AudioTrack)
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	sample, err := audio.ReadSample(rctx)
	require.NoError(t, err)
	assert.Equal(t, opusSilence, sample.Data)
}

func TestTestPatternDeviceErrors(t *testing.T) {
	ctx := context.Background()

	_, err := (&TestPatternDevice{Denied: true}).Acquire(ctx, Constraints{Video: true})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = (&TestPatternDevice{}).Acquire(ctx, Constraints{})
	assert.ErrorIs(t, err, ErrNoDevice)
}
