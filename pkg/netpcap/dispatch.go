package netpcap

import (
	"context"

	"github.com/google/gopacket"

	"firestige.xyz/netpcap/pkg/pipeline"
)

// DispatchNative delivers raw headers and borrowed data.
func (h *Handle) DispatchNative(ctx context.Context, count int64, handler pipeline.NativeHandler, user any) (int64, error) {
	if h.isClosed() {
		return 0, ErrClosed
	}
	return h.pre.DispatchNative(ctx, count, handler, user)
}

// DispatchArray delivers owned copies of the data.
func (h *Handle) DispatchArray(ctx context.Context, count int64, handler pipeline.ArrayHandler, user any) (int64, error) {
	if h.isClosed() {
		return 0, ErrClosed
	}
	return h.pre.DispatchArray(ctx, count, handler, user)
}

// DispatchBuffer delivers read-only readers over the borrowed data.
func (h *Handle) DispatchBuffer(ctx context.Context, count int64, handler pipeline.BufferHandler, user any) (int64, error) {
	if h.isClosed() {
		return 0, ErrClosed
	}
	return h.pre.DispatchBuffer(ctx, count, handler, user)
}

// DispatchForeign delivers borrowed data with gopacket capture info.
func (h *Handle) DispatchForeign(ctx context.Context, count int64, handler pipeline.ForeignHandler, user any) (int64, error) {
	if h.isClosed() {
		return 0, ErrClosed
	}
	return h.pre.DispatchForeign(ctx, count, handler, user)
}

// DispatchPacket delivers decoded packets that pass the post processors.
func (h *Handle) DispatchPacket(ctx context.Context, count int64, handler pipeline.PacketHandler, user any) (int64, error) {
	if h.isClosed() {
		return 0, ErrClosed
	}
	return h.pre.DispatchPacket(ctx, count, handler, user)
}

// NextPacket returns the next packet that makes it through both pipelines.
func (h *Handle) NextPacket(ctx context.Context) (gopacket.Packet, error) {
	if h.isClosed() {
		return nil, ErrClosed
	}
	return h.pre.NextPacket(ctx)
}

// Packets streams packets on a channel until a dispatch call receives no
// frame, ctx is done or the handle is closed. On a live source the first
// idle read timeout ends the stream.
func (h *Handle) Packets(ctx context.Context) <-chan gopacket.Packet {
	ch := make(chan gopacket.Packet, 128)
	go func() {
		defer close(ch)
		for ctx.Err() == nil {
			before := h.pre.Stats().Received
			_, err := h.DispatchPacket(ctx, pipeline.DispatchAll, func(_ any, pkt gopacket.Packet) {
				select {
				case ch <- pkt:
				case <-ctx.Done():
				}
			}, nil)
			if err != nil || h.pre.Stats().Received == before {
				return
			}
		}
	}()
	return ch
}
