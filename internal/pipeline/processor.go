package pipeline

import (
	"sync"

	"github.com/mossy-p/gradecall/internal/media"
)

// Processor keeps at most one pipeline alive, keyed on the identity of its
// source stream.
type Processor struct {
	filter DescriptorSource
	sched  Scheduler

	mu       sync.Mutex
	pipeline *Pipeline
}

// NewProcessor creates a processor that grades with filter.
func NewProcessor(filter DescriptorSource, sched Scheduler) *Processor {
	return &Processor{filter: filter, sched: sched}
}

// SetSource points the processor at source and returns the graded output.
// Passing the same stream again returns the existing output unchanged.
// A different stream tears down the old pipeline first. A nil source tears
// down and returns nil.
func (p *Processor) SetSource(source *media.Stream) *media.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pipeline != nil && p.pipeline.Source() == source {
		return p.pipeline.Output()
	}
	if p.pipeline != nil {
		p.pipeline.Close()
		p.pipeline = nil
	}
	if source == nil {
		return nil
	}
	p.pipeline = New(source, p.filter, p.sched)
	return p.pipeline.Output()
}

// Output returns the current graded stream, or nil.
func (p *Processor) Output() *media.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pipeline == nil {
		return nil
	}
	return p.pipeline.Output()
}

// Close tears down the current pipeline.
func (p *Processor) Close() {
	p.SetSource(nil)
}
