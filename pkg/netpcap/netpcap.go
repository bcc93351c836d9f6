// Package netpcap is the entry point for capturing through a pre-processing
// pipeline. A Handle pairs a capture source with its pipeline and exposes the
// dispatch calls, the pre and post processor chains and error listeners.
//
//	h, err := netpcap.OpenOffline("trace.pcap")
//	if err != nil {
//		return err
//	}
//	defer h.Close()
//
//	rep, _ := processor.NewRepeater(2)
//	h.PreProcessors().AddProcessor(processor.RepeaterPriority, func() pipeline.Processor { return rep })
//	n, err := h.DispatchPacket(ctx, pipeline.DispatchAll, handler, nil)
package netpcap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netpcap/internal/source"
	"firestige.xyz/netpcap/internal/source/file"
	"firestige.xyz/netpcap/internal/source/live"
	"firestige.xyz/netpcap/pkg/pipeline"
	"firestige.xyz/netpcap/pkg/timing"
)

// ErrClosed is returned by calls on a closed handle.
var ErrClosed = errors.New("netpcap: handle closed")

// Option configures a Handle.
type Option func(*options)

type options struct {
	name          string
	decodeOptions *gopacket.DecodeOptions
	stopwatch     []timing.Option
}

// WithName names the pipeline in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDecodeOptions sets how the packet representation is decoded.
func WithDecodeOptions(opts gopacket.DecodeOptions) Option {
	return func(o *options) { o.decodeOptions = &opts }
}

// WithStopwatch configures the frame stopwatch, e.g. with a fake clock.
func WithStopwatch(opts ...timing.Option) Option {
	return func(o *options) { o.stopwatch = append(o.stopwatch, opts...) }
}

// LiveConfig configures OpenLive.
type LiveConfig = live.Config

// Handle is an open capture session. Dispatch calls must come from one
// goroutine at a time; processor registration, BreakLoop and Close may be
// called from any goroutine.
type Handle struct {
	src  pipeline.Source
	pre  *pipeline.PrePipeline
	body io.Closer

	mu     sync.Mutex
	closed bool
}

// New wraps an already opened source. closer, if not nil, is closed with the
// handle.
func New(src pipeline.Source, closer io.Closer, opts ...Option) (*Handle, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	pre, err := pipeline.New(pipeline.Config{
		Name:             o.name,
		Source:           src,
		DecodeOptions:    o.decodeOptions,
		StopwatchOptions: o.stopwatch,
	})
	if err != nil {
		return nil, err
	}
	return &Handle{src: src, pre: pre, body: closer}, nil
}

// OpenOffline opens a pcap or pcapng file.
func OpenOffline(path string, opts ...Option) (*Handle, error) {
	src, err := file.Open(path)
	if err != nil {
		return nil, err
	}
	return wrap(src, opts)
}

// OpenOfflineReader reads a capture stream. The caller keeps ownership of r.
func OpenOfflineReader(r io.Reader, opts ...Option) (*Handle, error) {
	src, err := file.NewReader(r)
	if err != nil {
		return nil, err
	}
	return wrap(src, opts)
}

// OpenLive starts capturing on an interface.
func OpenLive(cfg LiveConfig, opts ...Option) (*Handle, error) {
	src, err := live.Open(cfg)
	if err != nil {
		return nil, err
	}
	return wrap(src, opts)
}

// OpenDead creates a handle that yields no frames, for building and testing
// processor chains against a fixed link type.
func OpenDead(linkType layers.LinkType, opts ...Option) (*Handle, error) {
	return wrap(source.Dead(linkType), opts)
}

// OpenSource wraps a source opened from configuration.
func OpenSource(src source.Source, opts ...Option) (*Handle, error) {
	return wrap(src, opts)
}

func wrap(src source.Source, opts []Option) (*Handle, error) {
	h, err := New(src, src, opts...)
	if err != nil {
		src.Close()
		return nil, err
	}
	return h, nil
}

// PreProcessors is the frame level pipeline.
func (h *Handle) PreProcessors() *pipeline.PrePipeline { return h.pre }

// PostProcessors filter decoded packets before DispatchPacket delivers them.
func (h *Handle) PostProcessors() *pipeline.PostPipeline { return h.pre.Post() }

// LinkType is the link type frames are decoded with.
func (h *Handle) LinkType() layers.LinkType { return h.pre.LinkType() }

// Stats returns the pipeline counters.
func (h *Handle) Stats() pipeline.Stats { return h.pre.Stats() }

// AddErrorListener registers fn for faults raised while processing frames.
func (h *Handle) AddErrorListener(fn func(error)) (unregister func()) {
	return h.pre.AddErrorListener(fn)
}

// BreakLoop interrupts the dispatch call in flight.
func (h *Handle) BreakLoop() { h.pre.BreakLoop() }

// SetIPReassembler is reserved for fragment reassembly ahead of the packet
// representation.
func (h *Handle) SetIPReassembler(any) error {
	return fmt.Errorf("%w: ip reassembly", pipeline.ErrNotImplemented)
}

// Close releases the source. It is safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	st := h.pre.Stats()
	slog.Debug("handle closed",
		"pipeline", h.pre.Name(),
		"received", st.Received,
		"delivered", st.Delivered,
		"dropped", st.Dropped)
	if h.body != nil {
		return h.body.Close()
	}
	return nil
}

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
