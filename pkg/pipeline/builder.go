package pipeline

import (
	"github.com/google/gopacket"

	"firestige.xyz/netpcap/pkg/timing"
)

// Builder provides a fluent interface for building pipelines, processors
// included. This is an alternative to using Config and AddProcessor directly.
type Builder struct {
	config     Config
	processors []builderEntry
	post       []builderPost
}

type builderEntry struct {
	priority int
	factory  ProcessorFactory
}

type builderPost struct {
	priority int
	proc     PostProcessor
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithName sets the pipeline name.
func (b *Builder) WithName(name string) *Builder {
	b.config.Name = name
	return b
}

// WithSource sets the capture source.
func (b *Builder) WithSource(src Source) *Builder {
	b.config.Source = src
	return b
}

// WithDecodeOptions sets the options used to decode the packet representation.
func (b *Builder) WithDecodeOptions(opts gopacket.DecodeOptions) *Builder {
	b.config.DecodeOptions = &opts
	return b
}

// WithStopwatch sets stopwatch options.
func (b *Builder) WithStopwatch(opts ...timing.Option) *Builder {
	b.config.StopwatchOptions = append(b.config.StopwatchOptions, opts...)
	return b
}

// WithProcessor queues a pre-processor.
func (b *Builder) WithProcessor(priority int, factory ProcessorFactory) *Builder {
	b.processors = append(b.processors, builderEntry{priority, factory})
	return b
}

// WithPostProcessor queues a post-processor.
func (b *Builder) WithPostProcessor(priority int, proc PostProcessor) *Builder {
	b.post = append(b.post, builderPost{priority, proc})
	return b
}

// Build creates the pipeline and registers the queued processors.
func (b *Builder) Build() (*PrePipeline, error) {
	p, err := New(b.config)
	if err != nil {
		return nil, err
	}
	for _, e := range b.processors {
		if _, err := p.AddProcessor(e.priority, e.factory); err != nil {
			return nil, err
		}
	}
	for _, e := range b.post {
		if err := p.post.Add(e.priority, e.proc); err != nil {
			return nil, err
		}
	}
	return p, nil
}
