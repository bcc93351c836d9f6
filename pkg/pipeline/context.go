package pipeline

import (
	"context"

	"firestige.xyz/netpcap/pkg/abi"
	"firestige.xyz/netpcap/pkg/timing"
)

// DispatchContext is the mutable state of one dispatch call. It is reset when
// the call installs its output and is shared by every frame of that call.
type DispatchContext struct {
	// User is the caller token passed to the dispatch call.
	User any
	// Count is the number of frames delivered so far in this call.
	Count int64
	// LastTimestamp is the header timestamp of the last delivered frame, in
	// nanoseconds.
	LastTimestamp int64

	ctx context.Context
	abi abi.ABI
	sw  *timing.Stopwatch

	scratch [abi.MaxHeaderSize]byte
	decoded abi.Header
	fresh   bool

	stopped   bool
	breakLoop func()
}

func (dc *DispatchContext) reset(ctx context.Context, user any) {
	dc.User = user
	dc.Count = 0
	dc.LastTimestamp = 0
	dc.ctx = ctx
	dc.fresh = false
	dc.stopped = false
}

// load copies hdr into the scratch header; decoding is deferred until asked.
func (dc *DispatchContext) load(hdr []byte) {
	copy(dc.scratch[:], hdr[:dc.abi.Size()])
	dc.fresh = false
}

// Context is the context of the dispatch call; sleeps honour its cancellation.
func (dc *DispatchContext) Context() context.Context { return dc.ctx }

// ABI is the header layout of the session.
func (dc *DispatchContext) ABI() abi.ABI { return dc.abi }

// Stopwatch is the pipeline's frame stopwatch.
func (dc *DispatchContext) Stopwatch() *timing.Stopwatch { return dc.sw }

// ScratchHeader is a private copy of the current frame's header. Processors
// rewrite it instead of the borrowed original.
func (dc *DispatchContext) ScratchHeader() []byte { return dc.scratch[:dc.abi.Size()] }

// Header decodes the scratch header, once per frame.
func (dc *DispatchContext) Header() abi.Header {
	if !dc.fresh {
		dc.decoded = dc.abi.Decode(dc.ScratchHeader())
		dc.fresh = true
	}
	return dc.decoded
}

// SetTimestamp rewrites the scratch header's timestamp.
func (dc *DispatchContext) SetTimestamp(nanos int64) {
	dc.abi.EncodeTimestamp(dc.ScratchHeader(), nanos, abi.EpochNano)
	if dc.fresh {
		dc.decoded.TimestampNanos = dc.abi.TimestampNanos(dc.ScratchHeader())
	}
}

// Stop ends the dispatch call early. Frames still arriving in the call are
// ignored and the driver returns the count delivered so far.
func (dc *DispatchContext) Stop() {
	if dc.stopped {
		return
	}
	dc.stopped = true
	if dc.breakLoop != nil {
		dc.breakLoop()
	}
}

// Stopped reports whether Stop was called.
func (dc *DispatchContext) Stopped() bool { return dc.stopped }
