package pipeline

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// NextFunc forwards a frame to the next stage and returns how many frames were
// delivered downstream.
type NextFunc func(dc *DispatchContext, header, data []byte) int

// Processor is one pre-processing stage. To forward a frame it calls next, as
// many times as it wants: zero drops the frame, more than once replicates it.
// It returns the sum of what next returned.
type Processor interface {
	Name() string
	ProcessFrame(dc *DispatchContext, header, data []byte, next NextFunc) int
}

// ProcessorFactory creates the processor to register.
type ProcessorFactory func() Processor

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc struct {
	ID string
	Fn func(dc *DispatchContext, header, data []byte, next NextFunc) int
}

func (f ProcessorFunc) Name() string { return f.ID }

func (f ProcessorFunc) ProcessFrame(dc *DispatchContext, header, data []byte, next NextFunc) int {
	return f.Fn(dc, header, data, next)
}

// ProcessorEntry is a registered processor.
type ProcessorEntry struct {
	Priority  int
	Name      string
	Enabled   bool
	Processor Processor

	seq uint64
}

// ProcessorHandle refers to a registered processor.
type ProcessorHandle struct {
	p     *PrePipeline
	entry *ProcessorEntry
}

func (h *ProcessorHandle) Name() string         { return h.entry.Name }
func (h *ProcessorHandle) Priority() int        { return h.entry.Priority }
func (h *ProcessorHandle) Processor() Processor { return h.entry.Processor }

// Enabled reports whether the processor takes part in the chain.
func (h *ProcessorHandle) Enabled() bool {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	return h.entry.Enabled
}

// SetEnabled takes the processor in or out of the chain without removing it.
func (h *ProcessorHandle) SetEnabled(enabled bool) {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if h.entry.Enabled == enabled {
		return
	}
	h.entry.Enabled = enabled
	h.p.rebuildLocked()
}

// Remove unregisters the processor.
func (h *ProcessorHandle) Remove() error { return h.p.RemoveProcessor(h) }

// AddProcessor registers the processor built by factory. Lower priorities run
// first; equal priorities run in registration order.
func (p *PrePipeline) AddProcessor(priority int, factory ProcessorFactory) (*ProcessorHandle, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: nil processor factory", ErrInvalidConfig)
	}
	proc := factory()
	if proc == nil {
		return nil, fmt.Errorf("%w: factory returned nil processor", ErrInvalidConfig)
	}
	name := proc.Name()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if e.Name == name {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProcessor, name)
		}
	}

	p.seq++
	entry := &ProcessorEntry{
		Priority:  priority,
		Name:      name,
		Enabled:   true,
		Processor: proc,
		seq:       p.seq,
	}
	p.entries = append(p.entries, entry)
	slices.SortStableFunc(p.entries, func(a, b *ProcessorEntry) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	p.rebuildLocked()

	slog.Debug("processor added", "pipeline", p.name, "processor", name, "priority", priority)
	return &ProcessorHandle{p: p, entry: entry}, nil
}

// RemoveProcessor unregisters a processor previously added to this pipeline.
func (p *PrePipeline) RemoveProcessor(h *ProcessorHandle) error {
	if h == nil || h.p != p {
		return ErrProcessorNotFound
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	i := slices.Index(p.entries, h.entry)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrProcessorNotFound, h.entry.Name)
	}
	p.entries = slices.Delete(p.entries, i, i+1)
	p.rebuildLocked()

	slog.Debug("processor removed", "pipeline", p.name, "processor", h.entry.Name)
	return nil
}

// Processor looks up a registered processor by name.
func (p *PrePipeline) Processor(name string) (Processor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.Name == name {
			return e.Processor, true
		}
	}
	return nil, false
}

// Processors returns a snapshot of the registered processors in run order.
func (p *PrePipeline) Processors() []ProcessorEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProcessorEntry, len(p.entries))
	for i, e := range p.entries {
		out[i] = *e
	}
	return out
}

// rebuildLocked links the enabled processors into a new chain and publishes
// it. In-flight frames keep running on the chain they loaded.
func (p *PrePipeline) rebuildLocked() {
	next := NextFunc(p.deliver)
	for i := len(p.entries) - 1; i >= 0; i-- {
		e := p.entries[i]
		if !e.Enabled {
			continue
		}
		proc, n := e.Processor, next
		next = func(dc *DispatchContext, header, data []byte) int {
			return proc.ProcessFrame(dc, header, data, n)
		}
	}
	p.chain.Store(&next)
}

// String describes the chain, head to output.
func (p *PrePipeline) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "pre[%s]: input", p.name)
	for _, e := range p.entries {
		state := ""
		if !e.Enabled {
			state = ",disabled"
		}
		fmt.Fprintf(&b, " -> %s(%d%s)", e.Name, e.Priority, state)
	}
	b.WriteString(" -> output")
	return b.String()
}
