package pipeline

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/google/gopacket"
)

// output is the transformer for one representation. There is exactly one per
// representation per pipeline, built up front; a dispatch call connects its
// handler, pushes it on the stack and pops it when done. Its context lives
// here so a frame never allocates one.
type output struct {
	rep       Representation
	installed bool
	convert   func(o *output, dc *DispatchContext, header, data []byte) int
	dc        DispatchContext

	native  NativeHandler
	array   ArrayHandler
	buffer  BufferHandler
	foreign ForeignHandler
	packet  PacketHandler

	reader bytes.Reader
	p      *PrePipeline
}

func (o *output) disconnect() {
	o.native, o.array, o.buffer, o.foreign, o.packet = nil, nil, nil, nil, nil
	o.reader.Reset(nil)
	o.dc.User = nil
}

// outputStack holds the installed outputs; the top one receives frames. It is
// touched only from the dispatching goroutine.
type outputStack struct {
	items []*output
}

func (s *outputStack) push(o *output) { s.items = append(s.items, o) }

func (s *outputStack) top() *output {
	if len(s.items) == 0 {
		return nil
	}
	return s.items[len(s.items)-1]
}

func (s *outputStack) remove(o *output) {
	if i := slices.Index(s.items, o); i >= 0 {
		s.items = slices.Delete(s.items, i, i+1)
	}
}

func (s *outputStack) len() int { return len(s.items) }

func newOutputs(p *PrePipeline) [numRepresentations]*output {
	convs := [numRepresentations]func(*output, *DispatchContext, []byte, []byte) int{
		Native:  (*output).toNative,
		Array:   (*output).toArray,
		Buffer:  (*output).toBuffer,
		Foreign: (*output).toForeign,
		Packet:  (*output).toPacket,
	}
	var outs [numRepresentations]*output
	for i := range outs {
		o := &output{rep: Representation(i), convert: convs[i], p: p}
		o.dc.abi = p.abi
		o.dc.sw = p.stopwatch
		o.dc.breakLoop = p.source.BreakLoop
		outs[i] = o
	}
	return outs
}

func (o *output) toNative(dc *DispatchContext, header, data []byte) int {
	o.native(dc.User, header, data)
	return 1
}

// toArray is the only conversion that copies by contract: the receiver owns
// the slice.
func (o *output) toArray(dc *DispatchContext, header, data []byte) int {
	o.array(dc.User, dc.abi.Decode(header), bytes.Clone(data))
	return 1
}

func (o *output) toBuffer(dc *DispatchContext, header, data []byte) int {
	o.reader.Reset(data)
	o.buffer(dc.User, dc.abi.Decode(header), &o.reader)
	o.reader.Reset(nil)
	return 1
}

func (o *output) toForeign(dc *DispatchContext, header, data []byte) int {
	o.foreign(dc.User, CaptureInfo(dc.abi.Decode(header)), data)
	return 1
}

// toPacket binds a decoded packet to an owned copy of the data, since packets
// outlive the callback. The post pipeline may veto delivery.
func (o *output) toPacket(dc *DispatchContext, header, data []byte) int {
	hdr := dc.abi.Decode(header)
	pkt := gopacket.NewPacket(bytes.Clone(data), o.p.linkType, o.p.decodeOptions)
	md := pkt.Metadata()
	md.CaptureInfo = CaptureInfo(hdr)
	md.Truncated = md.Truncated || hdr.CaptureLength < hdr.WireLength

	if !o.p.post.process(pkt) {
		return 0
	}
	o.packet(dc.User, pkt)
	return 1
}

// install connects a handler to the representation's output and pushes it.
func (p *PrePipeline) install(rep Representation, connect func(*output)) (*output, error) {
	o := p.outputs[rep]
	if o.installed {
		return nil, fmt.Errorf("%w: %s", ErrOutputInUse, rep)
	}
	connect(o)
	o.installed = true
	p.stack.push(o)
	return o, nil
}

// uninstall always runs, on normal and panicking return alike.
func (p *PrePipeline) uninstall(o *output) {
	p.stack.remove(o)
	o.disconnect()
	o.installed = false
}

// deliver is the chain's tail: it hands the frame to the active output.
func (p *PrePipeline) deliver(dc *DispatchContext, header, data []byte) int {
	o := p.stack.top()
	if o == nil || &o.dc != dc {
		// a frame forwarded after its dispatch call returned
		return 0
	}
	n := o.convert(o, dc, header, data)
	if n > 0 {
		dc.LastTimestamp = dc.abi.TimestampNanos(header)
	}
	return n
}
