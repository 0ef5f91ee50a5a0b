package media

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the media type of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track is one media-producing channel of a stream.
type Track interface {
	ID() string
	Kind() Kind
	// Stop ends the track. Only the first call has an effect.
	Stop()
	// Done is closed once the track has been stopped.
	Done() <-chan struct{}
	Ended() bool
}

// Settings are the native properties of a video track.
type Settings struct {
	Width  int
	Height int
}

// VideoTrack produces raw frames.
type VideoTrack interface {
	Track
	Settings() Settings
	// Ready is closed once the track knows its dimensions and can be drawn.
	Ready() <-chan struct{}
	// CurrentFrame returns the latest frame without waiting.
	CurrentFrame() (*VideoFrame, error)
	// NextFrame waits for a frame newer than the last one returned to this caller.
	NextFrame(ctx context.Context, after uint64) (*VideoFrame, uint64, error)
}

// Sample is one encoded audio packet.
type Sample struct {
	Data     []byte
	Duration time.Duration
}

// AudioTrack produces encoded audio samples.
type AudioTrack interface {
	Track
	ReadSample(ctx context.Context) (Sample, error)
}

// baseTrack implements the identity and stop bookkeeping shared by tracks.
type baseTrack struct {
	id   string
	kind Kind
	done chan struct{}
	once sync.Once
}

func (t *baseTrack) init(kind Kind) {
	t.id = uuid.New().String()
	t.kind = kind
	t.done = make(chan struct{})
}

func (t *baseTrack) ID() string            { return t.id }
func (t *baseTrack) Kind() Kind            { return t.kind }
func (t *baseTrack) Done() <-chan struct{} { return t.done }

func (t *baseTrack) Stop() {
	t.once.Do(func() { close(t.done) })
}

func (t *baseTrack) Ended() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// LocalVideoTrack is a video track fed by Publish. Cameras and the frame
// pipeline's render surface are both LocalVideoTracks.
type LocalVideoTrack struct {
	baseTrack

	mu       sync.Mutex
	settings Settings
	frame    *VideoFrame
	seq      uint64
	notify   chan struct{}
	ready    chan struct{}
	readyOne sync.Once
}

// NewLocalVideoTrack creates a track; settings may be zero until known.
func NewLocalVideoTrack(settings Settings) *LocalVideoTrack {
	t := &LocalVideoTrack{
		settings: settings,
		notify:   make(chan struct{}),
		ready:    make(chan struct{}),
	}
	t.init(KindVideo)
	return t
}

// Settings returns the track's native dimensions.
func (t *LocalVideoTrack) Settings() Settings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// Ready is closed once MarkReady has been called.
func (t *LocalVideoTrack) Ready() <-chan struct{} {
	return t.ready
}

// MarkReady records the native dimensions and signals readiness.
func (t *LocalVideoTrack) MarkReady(settings Settings) {
	t.mu.Lock()
	t.settings = settings
	t.mu.Unlock()
	t.readyOne.Do(func() { close(t.ready) })
}

// Publish replaces the current frame and wakes waiting readers. Frames
// published after Stop are ignored.
func (t *LocalVideoTrack) Publish(frame *VideoFrame) {
	if t.Ended() {
		return
	}
	t.mu.Lock()
	t.frame = frame
	t.seq++
	close(t.notify)
	t.notify = make(chan struct{})
	t.mu.Unlock()
}

// CurrentFrame returns the latest published frame.
func (t *LocalVideoTrack) CurrentFrame() (*VideoFrame, error) {
	if t.Ended() {
		return nil, ErrTrackEnded
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frame == nil {
		return nil, ErrNoFrame
	}
	return t.frame, nil
}

// NextFrame blocks until a frame with a sequence number above after is
// published, then returns it with its sequence number.
func (t *LocalVideoTrack) NextFrame(ctx context.Context, after uint64) (*VideoFrame, uint64, error) {
	for {
		t.mu.Lock()
		frame, seq, notify := t.frame, t.seq, t.notify
		t.mu.Unlock()

		if frame != nil && seq > after {
			return frame, seq, nil
		}

		select {
		case <-notify:
		case <-t.done:
			return nil, 0, ErrTrackEnded
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
}

// LocalAudioTrack is an audio track fed by Write.
type LocalAudioTrack struct {
	baseTrack
	samples chan Sample
}

// NewLocalAudioTrack creates an audio track buffering up to 50 samples.
func NewLocalAudioTrack() *LocalAudioTrack {
	t := &LocalAudioTrack{samples: make(chan Sample, 50)}
	t.init(KindAudio)
	return t
}

// Write queues a sample, dropping it if the reader has fallen behind.
func (t *LocalAudioTrack) Write(s Sample) bool {
	if t.Ended() {
		return false
	}
	select {
	case t.samples <- s:
		return true
	default:
		return false
	}
}

// ReadSample waits for the next sample.
func (t *LocalAudioTrack) ReadSample(ctx context.Context) (Sample, error) {
	select {
	case s := <-t.samples:
		return s, nil
	case <-t.done:
		return Sample{}, ErrTrackEnded
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	}
}
