package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/gopacket"
)

// DispatchNative delivers up to count frames as raw header and borrowed data.
// count <= 0 drains what the source has buffered (offline) or waits for its
// read timeout (live). The returned count is always the number of handler
// invocations, also when err is non-nil.
func (p *PrePipeline) DispatchNative(ctx context.Context, count int64, handler NativeHandler, user any) (int64, error) {
	if handler == nil {
		return 0, ErrNilHandler
	}
	return p.dispatch(ctx, Native, count, user, func(o *output) { o.native = handler })
}

// DispatchArray delivers frames as owned copies.
func (p *PrePipeline) DispatchArray(ctx context.Context, count int64, handler ArrayHandler, user any) (int64, error) {
	if handler == nil {
		return 0, ErrNilHandler
	}
	return p.dispatch(ctx, Array, count, user, func(o *output) { o.array = handler })
}

// DispatchBuffer delivers frames as readers over the borrowed data.
func (p *PrePipeline) DispatchBuffer(ctx context.Context, count int64, handler BufferHandler, user any) (int64, error) {
	if handler == nil {
		return 0, ErrNilHandler
	}
	return p.dispatch(ctx, Buffer, count, user, func(o *output) { o.buffer = handler })
}

// DispatchForeign delivers frames as borrowed data with gopacket capture info.
func (p *PrePipeline) DispatchForeign(ctx context.Context, count int64, handler ForeignHandler, user any) (int64, error) {
	if handler == nil {
		return 0, ErrNilHandler
	}
	return p.dispatch(ctx, Foreign, count, user, func(o *output) { o.foreign = handler })
}

// DispatchPacket delivers frames as decoded packets that passed the post
// pipeline.
func (p *PrePipeline) DispatchPacket(ctx context.Context, count int64, handler PacketHandler, user any) (int64, error) {
	if handler == nil {
		return 0, ErrNilHandler
	}
	return p.dispatch(ctx, Packet, count, user, func(o *output) { o.packet = handler })
}

// NextPacket reads a single frame into a packet. It returns ErrNoPacket when
// the source yields nothing (end of file, read timeout, or the frame was
// dropped by a processor).
func (p *PrePipeline) NextPacket(ctx context.Context) (gopacket.Packet, error) {
	var pkt gopacket.Packet
	n, err := p.DispatchPacket(ctx, 1, func(_ any, got gopacket.Packet) {
		if pkt == nil {
			pkt = got
		}
	}, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 || pkt == nil {
		return nil, ErrNoPacket
	}
	return pkt, nil
}

func (p *PrePipeline) dispatch(ctx context.Context, rep Representation, count int64, user any, connect func(*output)) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	o, err := p.install(rep, connect)
	if err != nil {
		return 0, err
	}
	defer p.uninstall(o)

	ctx, cancel := context.WithCancel(ctx)
	dc := &o.dc
	p.track(dc, cancel)
	defer p.untrack(dc)

	dc.reset(ctx, user)
	p.metrics.Dispatches.Add(1)

	err = p.capture(dc, count)
	if err != nil {
		slog.Debug("dispatch failed",
			"pipeline", p.name,
			"representation", rep.String(),
			"count", dc.Count,
			"error", err)
	}
	return dc.Count, err
}

// capture drives the source. Positive counts are split into chunks the source
// accepts in one call.
func (p *PrePipeline) capture(dc *DispatchContext, count int64) error {
	if count <= 0 {
		_, err := p.source.Dispatch(int(max(count, DispatchAll)), p.adapter, dc.User)
		return p.fault(err)
	}

	for count > 0 {
		chunk := min(count, MaxDispatchCount)
		_, err := p.source.Dispatch(int(chunk), p.adapter, dc.User)
		if err != nil {
			return p.fault(err)
		}
		if dc.stopped || dc.ctx.Err() != nil {
			return nil
		}
		count -= chunk
	}
	return nil
}

// fault classifies an error returned by the source. A break-loop is an early
// stop; anything else is a capture fault, reported to listeners and returned.
func (p *PrePipeline) fault(err error) error {
	if err == nil || errors.Is(err, ErrBreakLoop) {
		return nil
	}
	err = fmt.Errorf("%w: %w", ErrCaptureFault, err)
	p.metrics.DispatchErrors.Add(1)
	p.notify(err)
	return err
}

// BreakLoop asks the source to return from its current dispatch call and
// cancels the context of every call in flight, so a processor sleeping between
// frames wakes up instead of finishing its delay. Safe to call from any
// goroutine.
func (p *PrePipeline) BreakLoop() {
	p.source.BreakLoop()
	p.breakMu.Lock()
	defer p.breakMu.Unlock()
	for _, cancel := range p.cancels {
		cancel()
	}
}

func (p *PrePipeline) track(dc *DispatchContext, cancel context.CancelFunc) {
	p.breakMu.Lock()
	defer p.breakMu.Unlock()
	if p.cancels == nil {
		p.cancels = make(map[*DispatchContext]context.CancelFunc)
	}
	p.cancels[dc] = cancel
}

func (p *PrePipeline) untrack(dc *DispatchContext) {
	p.breakMu.Lock()
	cancel := p.cancels[dc]
	delete(p.cancels, dc)
	p.breakMu.Unlock()
	if cancel != nil {
		cancel()
	}
}
