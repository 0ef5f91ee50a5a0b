// Package pipeline renders a source video track through the current
// colour grade onto a surface and exposes that surface as a new stream.
package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/mossy-p/gradecall/internal/grading"
	"github.com/mossy-p/gradecall/internal/media"
)

// Surface size used when the source does not report one.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// DescriptorSource yields the grade to apply. It is read on every frame so
// changes take effect without rebuilding the pipeline.
type DescriptorSource interface {
	Descriptor() grading.Descriptor
}

// Pipeline draws one source stream onto a graded output stream.
type Pipeline struct {
	source *media.Stream
	video  media.VideoTrack
	filter DescriptorSource
	sched  Scheduler

	width, height int
	surface       *media.LocalVideoTrack
	output        *media.Stream

	mu      sync.Mutex
	cancel  func()
	stopped bool

	detach    chan struct{}
	closeOnce sync.Once

	drawn  atomic.Uint64
	failed atomic.Uint64
}

// New builds a pipeline for source. The output stream carries the graded
// video surface plus the source's audio tracks, shared by reference.
func New(source *media.Stream, filter DescriptorSource, sched Scheduler) *Pipeline {
	p := &Pipeline{
		source: source,
		filter: filter,
		sched:  sched,
		width:  DefaultWidth,
		height: DefaultHeight,
		detach: make(chan struct{}),
	}

	if videos := source.VideoTracks(); len(videos) > 0 {
		p.video = videos[0]
		if s := p.video.Settings(); s.Width > 0 && s.Height > 0 {
			p.width, p.height = evenDown(s.Width), evenDown(s.Height)
		}
	}

	size := media.Settings{Width: p.width, Height: p.height}
	p.surface = media.NewLocalVideoTrack(size)
	p.surface.MarkReady(size)

	tracks := []media.Track{p.surface}
	tracks = append(tracks, source.AudioTracks()...)
	p.output = media.NewStream(tracks...)

	if p.video != nil {
		go p.awaitReady()
	}

	logrus.WithFields(logrus.Fields{
		"source": source.ID(),
		"output": p.output.ID(),
		"width":  p.width,
		"height": p.height,
	}).Debug("Frame pipeline started")

	return p
}

// Source returns the stream the pipeline reads from.
func (p *Pipeline) Source() *media.Stream { return p.source }

// Output returns the graded stream.
func (p *Pipeline) Output() *media.Stream { return p.output }

// Size returns the surface dimensions.
func (p *Pipeline) Size() (int, int) { return p.width, p.height }

// FramesDrawn returns the number of frames published to the surface.
func (p *Pipeline) FramesDrawn() uint64 { return p.drawn.Load() }

// awaitReady starts the draw loop once the source can be drawn. A source
// that becomes ready more than once only ever has one loop pending.
func (p *Pipeline) awaitReady() {
	select {
	case <-p.video.Ready():
		p.schedule()
	case <-p.detach:
	}
}

func (p *Pipeline) schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = p.sched.RequestFrame(p.render)
}

func (p *Pipeline) render() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.cancel = nil
	p.mu.Unlock()

	if err := p.draw(); err != nil {
		n := p.failed.Add(1)
		logrus.WithFields(logrus.Fields{
			"source": p.source.ID(),
			"failed": n,
		}).WithError(err).Debug("Skipping frame")
	}

	p.schedule()
}

// draw publishes one graded frame. Panics from a bad frame are reported as
// errors so the loop keeps running.
func (p *Pipeline) draw() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("draw panicked: %v", r)
		}
	}()

	frame, err := p.video.CurrentFrame()
	if err != nil {
		return err
	}
	out, err := Render(frame, p.filter.Descriptor(), p.width, p.height)
	if err != nil {
		return err
	}
	p.surface.Publish(out)
	p.drawn.Add(1)
	return nil
}

// Close stops the draw loop and every output track. It is safe to call
// more than once. Source tracks that are not part of the output are left
// running.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		p.mu.Unlock()

		close(p.detach)
		p.output.Stop()

		logrus.WithField("output", p.output.ID()).Debug("Frame pipeline stopped")
	})
}

func evenDown(v int) int {
	if v%2 != 0 {
		v--
	}
	if v < 2 {
		return 2
	}
	return v
}
