package pipeline

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
)

// PostProcessor sees every decoded packet before the packet handler does.
// Returning false drops the packet.
type PostProcessor interface {
	Name() string
	ProcessPacket(pkt gopacket.Packet) bool
}

// PostProcessorFunc adapts a function to the PostProcessor interface.
type PostProcessorFunc struct {
	ID string
	Fn func(pkt gopacket.Packet) bool
}

func (f PostProcessorFunc) Name() string                          { return f.ID }
func (f PostProcessorFunc) ProcessPacket(pkt gopacket.Packet) bool { return f.Fn(pkt) }

type postEntry struct {
	priority int
	seq      uint64
	proc     PostProcessor
}

// PostPipeline is the ordered set of post-processors applied to the packet
// representation.
type PostPipeline struct {
	name string

	mu      sync.Mutex
	entries []postEntry
	seq     uint64
	active  atomic.Pointer[[]PostProcessor]

	dropped atomic.Uint64
}

// NewPostPipeline creates an empty post pipeline.
func NewPostPipeline(name string) *PostPipeline {
	pp := &PostPipeline{name: name}
	pp.active.Store(&[]PostProcessor{})
	return pp
}

// Add registers proc. Lower priorities run first.
func (pp *PostPipeline) Add(priority int, proc PostProcessor) error {
	if proc == nil {
		return fmt.Errorf("%w: nil post processor", ErrInvalidConfig)
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()

	for _, e := range pp.entries {
		if e.proc.Name() == proc.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateProcessor, proc.Name())
		}
	}
	pp.seq++
	pp.entries = append(pp.entries, postEntry{priority: priority, seq: pp.seq, proc: proc})
	slices.SortStableFunc(pp.entries, func(a, b postEntry) int {
		if c := cmp.Compare(a.priority, b.priority); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	pp.publishLocked()

	slog.Debug("post processor added", "pipeline", pp.name, "processor", proc.Name(), "priority", priority)
	return nil
}

// Remove unregisters the post-processor called name.
func (pp *PostPipeline) Remove(name string) error {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	i := slices.IndexFunc(pp.entries, func(e postEntry) bool { return e.proc.Name() == name })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrProcessorNotFound, name)
	}
	pp.entries = slices.Delete(pp.entries, i, i+1)
	pp.publishLocked()
	return nil
}

// Len is the number of registered post-processors.
func (pp *PostPipeline) Len() int {
	return len(*pp.active.Load())
}

// Dropped counts packets vetoed by a post-processor.
func (pp *PostPipeline) Dropped() uint64 { return pp.dropped.Load() }

func (pp *PostPipeline) publishLocked() {
	procs := make([]PostProcessor, len(pp.entries))
	for i, e := range pp.entries {
		procs[i] = e.proc
	}
	pp.active.Store(&procs)
}

func (pp *PostPipeline) process(pkt gopacket.Packet) bool {
	for _, proc := range *pp.active.Load() {
		if !proc.ProcessPacket(pkt) {
			pp.dropped.Add(1)
			return false
		}
	}
	return true
}

// String describes the chain in run order.
func (pp *PostPipeline) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "post[%s]: packet", pp.name)
	for _, proc := range *pp.active.Load() {
		fmt.Fprintf(&b, " -> %s", proc.Name())
	}
	b.WriteString(" -> handler")
	return b.String()
}
