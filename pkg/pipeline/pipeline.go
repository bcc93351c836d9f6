// Package pipeline implements the pre-processing pipeline that sits between a
// capture source's per-frame callback and the caller's handler.
//
// Frames run synchronously on the goroutine that called Dispatch*, inside the
// source's dispatch call. A priority ordered chain of processors may drop,
// replicate, delay or rewrite each frame before the active output converts it
// to the representation the caller asked for.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/uuid"

	"firestige.xyz/netpcap/pkg/abi"
	"firestige.xyz/netpcap/pkg/timing"
)

// Config contains pipeline configuration.
type Config struct {
	Name   string
	Source Source
	// DecodeOptions used for the packet representation. Defaults to lazy,
	// no-copy decoding; the pipeline already hands gopacket an owned copy.
	DecodeOptions *gopacket.DecodeOptions
	// StopwatchOptions configure the frame stopwatch, e.g. a fake clock.
	StopwatchOptions []timing.Option
}

// PrePipeline owns the processor chain, the output stack and the dispatch
// driver for one capture source. Only one dispatch call may be in flight at a
// time; processors may be added or removed from any goroutine.
type PrePipeline struct {
	name string
	id   string

	source        Source
	abi           abi.ABI
	linkType      layers.LinkType
	decodeOptions gopacket.DecodeOptions
	stopwatch     *timing.Stopwatch

	mu      sync.Mutex // guards entries and seq
	entries []*ProcessorEntry
	seq     uint64
	chain   atomic.Pointer[NextFunc]

	outputs [numRepresentations]*output
	stack   outputStack
	adapter NativeHandler

	breakMu sync.Mutex // guards cancels
	cancels map[*DispatchContext]context.CancelFunc

	post      *PostPipeline
	listeners listeners
	metrics   *Metrics
}

// New creates a pipeline over cfg.Source.
func New(cfg Config) (*PrePipeline, error) {
	if cfg.Source == nil {
		return nil, ErrNilSource
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	opts := gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	if cfg.DecodeOptions != nil {
		opts = *cfg.DecodeOptions
	}

	p := &PrePipeline{
		name:          cfg.Name,
		id:            uuid.NewString(),
		source:        cfg.Source,
		abi:           cfg.Source.HeaderABI(),
		linkType:      cfg.Source.LinkType(),
		decodeOptions: opts,
		stopwatch:     timing.New(cfg.StopwatchOptions...),
		post:          NewPostPipeline(cfg.Name),
		metrics:       NewMetrics(),
	}
	p.adapter = p.handleNative
	p.outputs = newOutputs(p)
	p.rebuildLocked()

	slog.Debug("pipeline created",
		"pipeline", p.name,
		"session", p.id,
		"abi", p.abi.String(),
		"link_type", p.linkType.String())
	return p, nil
}

// Name returns the pipeline name.
func (p *PrePipeline) Name() string { return p.name }

// ID is a per-instance session identifier, unique across pipelines.
func (p *PrePipeline) ID() string { return p.id }

// ABI is the header layout reported by the source.
func (p *PrePipeline) ABI() abi.ABI { return p.abi }

// LinkType is the link type used to decode packets.
func (p *PrePipeline) LinkType() layers.LinkType { return p.linkType }

// Post returns the post pipeline applied to the packet representation.
func (p *PrePipeline) Post() *PostPipeline { return p.post }

// Metrics returns the pipeline's counters.
func (p *PrePipeline) Metrics() *Metrics { return p.metrics }

// NativeHandler returns the adapter a source invokes once per frame. It is
// the pipeline's only entry point.
func (p *PrePipeline) NativeHandler() NativeHandler { return p.adapter }

// handleNative runs one frame through the chain into the active output.
func (p *PrePipeline) handleNative(_ any, header, data []byte) {
	o := p.stack.top()
	if o == nil {
		return
	}
	dc := &o.dc
	if dc.stopped {
		return
	}
	if dc.ctx.Err() != nil {
		slog.Debug("dispatch cancelled", "pipeline", p.name, "count", dc.Count)
		p.metrics.Interrupted.Add(1)
		dc.Stop()
		return
	}

	header = p.abi.Reinterpret(header)
	if !p.abi.Valid(header) {
		p.notify(ErrShortHeader)
		return
	}
	data = p.abi.ReinterpretData(header, data)
	dc.load(header)
	p.metrics.Received.Add(1)

	slept := p.stopwatch.Slept()
	n := (*p.chain.Load())(dc, header, data)
	dc.Count += int64(n)

	if n > 0 {
		p.metrics.Delivered.Add(uint64(n))
	} else {
		p.metrics.Dropped.Add(1)
	}
	if d := p.stopwatch.Slept() - slept; d > 0 {
		p.metrics.DelayNanos.Add(uint64(d))
	}
	if dc.stopped {
		p.metrics.Interrupted.Add(1)
	}
}

// AddErrorListener registers fn for non-fatal faults raised while processing.
// The returned function unregisters it.
func (p *PrePipeline) AddErrorListener(fn func(error)) (unregister func()) {
	return p.listeners.add(fn)
}

func (p *PrePipeline) notify(err error) {
	p.listeners.notify(err)
}

type listeners struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(error)
}

func (l *listeners) add(fn func(error)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(error))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners) notify(err error) {
	l.mu.RLock()
	fns := make([]func(error), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(err)
	}
}
