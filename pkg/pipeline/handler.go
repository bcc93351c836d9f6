package pipeline

import (
	"bytes"
	"fmt"
	"math"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netpcap/pkg/abi"
)

// Representation selects the shape a dispatch call delivers frames in.
type Representation int

const (
	// Native hands over the raw header and the borrowed data region.
	Native Representation = iota
	// Array hands over an owned copy of the data.
	Array
	// Buffer hands over a read-only reader over the borrowed data.
	Buffer
	// Foreign hands over the borrowed data with gopacket capture info.
	Foreign
	// Packet hands over a decoded gopacket.Packet bound to an owned copy.
	Packet

	numRepresentations
)

var representationNames = [...]string{"native", "array", "buffer", "foreign", "packet"}

func (r Representation) String() string {
	if r < 0 || r >= numRepresentations {
		return fmt.Sprintf("representation(%d)", int(r))
	}
	return representationNames[r]
}

// ParseRepresentation resolves a representation by name.
func ParseRepresentation(s string) (Representation, error) {
	for i, n := range representationNames {
		if n == s {
			return Representation(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown representation %q", ErrInvalidConfig, s)
}

// Handlers, one per representation. header and data passed to NativeHandler
// and ForeignHandler, and the reader passed to BufferHandler, are valid only
// until the handler returns.
type (
	NativeHandler  func(user any, header, data []byte)
	ArrayHandler   func(user any, hdr abi.Header, data []byte)
	BufferHandler  func(user any, hdr abi.Header, buf *bytes.Reader)
	ForeignHandler func(user any, ci gopacket.CaptureInfo, data []byte)
	PacketHandler  func(user any, pkt gopacket.Packet)
)

const (
	// DispatchAll asks the source for everything it has buffered (offline) or
	// everything until the read timeout (live). 0 means the same.
	DispatchAll = -1
	// MaxDispatchCount bounds a single call into the source; larger requests
	// are split into chunks.
	MaxDispatchCount = math.MaxInt32
)

// Source is the capture primitive the pipeline drives. Dispatch invokes
// handler once per frame, up to count frames (count <= 0: drain or timeout),
// and returns how many it processed. A source interrupted by BreakLoop returns
// ErrBreakLoop.
type Source interface {
	Dispatch(count int, handler NativeHandler, user any) (int, error)
	HeaderABI() abi.ABI
	LinkType() layers.LinkType
	BreakLoop()
}

// CaptureInfo converts a decoded header to gopacket's metadata form.
func CaptureInfo(h abi.Header) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     h.Timestamp(),
		CaptureLength: int(h.CaptureLength),
		Length:        int(h.WireLength),
	}
}
