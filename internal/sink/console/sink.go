// Package console prints delivered frames, one line each.
package console

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"

	"firestige.xyz/netpcap/pkg/abi"
	"firestige.xyz/netpcap/pkg/pipeline"
)

// Sink writes a summary line per frame. Its handlers match every dispatch
// representation.
type Sink struct {
	mu  sync.Mutex
	w   io.Writer
	abi abi.ABI
	n   uint64
	hex bool
}

// NewSink creates a sink; a decodes headers for the native representation.
func NewSink(w io.Writer, a abi.ABI) *Sink {
	return &Sink{w: w, abi: a}
}

// WithHex appends a hex dump of the frame data.
func (s *Sink) WithHex(enable bool) *Sink {
	s.hex = enable
	return s
}

// Written is the number of lines printed.
func (s *Sink) Written() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func (s *Sink) HandleNative(_ any, header, data []byte) {
	s.line(s.abi.Decode(header), "", data)
}

func (s *Sink) HandleArray(_ any, hdr abi.Header, data []byte) {
	s.line(hdr, "", data)
}

func (s *Sink) HandleBuffer(_ any, hdr abi.Header, buf *bytes.Reader) {
	data := make([]byte, buf.Len())
	_, _ = buf.Read(data)
	s.line(hdr, "", data)
}

func (s *Sink) HandleForeign(_ any, ci gopacket.CaptureInfo, data []byte) {
	s.line(abi.Header{
		TimestampNanos: ci.Timestamp.UnixNano(),
		CaptureLength:  uint32(ci.CaptureLength),
		WireLength:     uint32(ci.Length),
	}, "", data)
}

func (s *Sink) HandlePacket(_ any, pkt gopacket.Packet) {
	md := pkt.Metadata()
	s.line(abi.Header{
		TimestampNanos: md.Timestamp.UnixNano(),
		CaptureLength:  uint32(md.CaptureLength),
		WireLength:     uint32(md.Length),
	}, summary(pkt), pkt.Data())
}

// Handler returns the sink's handler for rep as the matching handler type.
func (s *Sink) Handler(rep pipeline.Representation) any {
	switch rep {
	case pipeline.Native:
		return pipeline.NativeHandler(s.HandleNative)
	case pipeline.Array:
		return pipeline.ArrayHandler(s.HandleArray)
	case pipeline.Buffer:
		return pipeline.BufferHandler(s.HandleBuffer)
	case pipeline.Foreign:
		return pipeline.ForeignHandler(s.HandleForeign)
	default:
		return pipeline.PacketHandler(s.HandlePacket)
	}
}

func summary(pkt gopacket.Packet) string {
	names := make([]string, 0, 4)
	for _, l := range pkt.Layers() {
		names = append(names, l.LayerType().String())
	}
	out := strings.Join(names, "/")
	if nl := pkt.NetworkLayer(); nl != nil {
		out += " " + nl.NetworkFlow().String()
	}
	if tl := pkt.TransportLayer(); tl != nil {
		out += " " + tl.TransportFlow().String()
	}
	return out
}

func (s *Sink) line(hdr abi.Header, desc string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	ts := hdr.Timestamp().UTC().Format(time.RFC3339Nano)
	if desc == "" {
		fmt.Fprintf(s.w, "%d %s len %d/%d\n", s.n, ts, hdr.CaptureLength, hdr.WireLength)
	} else {
		fmt.Fprintf(s.w, "%d %s len %d/%d %s\n", s.n, ts, hdr.CaptureLength, hdr.WireLength, desc)
	}
	if s.hex {
		fmt.Fprintf(s.w, "%x\n", data)
	}
}
