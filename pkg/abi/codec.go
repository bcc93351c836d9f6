package abi

import "time"

// Header is the decoded form of a raw capture header.
type Header struct {
	TimestampNanos int64
	CaptureLength  uint32
	WireLength     uint32
}

// Timestamp returns the capture time.
func (h Header) Timestamp() time.Time { return time.Unix(0, h.TimestampNanos) }

// Valid reports whether hdr is long enough to hold a header of this layout.
func (a ABI) Valid(hdr []byte) bool { return len(hdr) >= a.Size() }

// Reinterpret widens a zero-length header view to the layout's fixed size when
// the backing array allows it. Capture primitives may hand over a placeholder
// of length zero for what is really a fixed-size struct.
func (a ABI) Reinterpret(hdr []byte) []byte {
	if len(hdr) == 0 && cap(hdr) >= a.Size() {
		return hdr[:a.Size()]
	}
	return hdr
}

// ReinterpretData widens a zero-length data view to the capture length taken
// from hdr, under the same rule as Reinterpret.
func (a ABI) ReinterpretData(hdr, data []byte) []byte {
	if len(data) != 0 || !a.Valid(hdr) {
		return data
	}
	if n := int(a.CaptureLength(hdr)); cap(data) >= n {
		return data[:n]
	}
	return data
}

// Decode extracts all header fields.
func (a ABI) Decode(hdr []byte) Header {
	return Header{
		TimestampNanos: a.TimestampNanos(hdr),
		CaptureLength:  a.CaptureLength(hdr),
		WireLength:     a.WireLength(hdr),
	}
}

// TimestampNanos reads the timestamp as nanoseconds since the epoch.
func (a ABI) TimestampNanos(hdr []byte) int64 {
	l := a.layout()
	var sec, frac int64
	if l.wide {
		sec = int64(l.order.Uint64(hdr[l.secOff:]))
		frac = int64(l.order.Uint64(hdr[l.fracOff:]))
	} else {
		sec = int64(l.order.Uint32(hdr[l.secOff:]))
		frac = int64(l.order.Uint32(hdr[l.fracOff:]))
	}
	return sec*int64(time.Second) + frac*l.unit.nanos()
}

// CaptureLength reads the number of captured data bytes.
func (a ABI) CaptureLength(hdr []byte) uint32 {
	l := a.layout()
	return l.order.Uint32(hdr[l.capOff:])
}

// WireLength reads the original length of the frame on the wire.
func (a ABI) WireLength(hdr []byte) uint32 {
	l := a.layout()
	return l.order.Uint32(hdr[l.wireOff:])
}

// EncodeTimestamp overwrites only the timestamp field. ts is expressed in unit;
// precision finer than the layout's fraction unit is truncated towards the
// past. The fraction is never negative, so a pre-epoch time is stored as the
// second before it plus a positive fraction. Compact layouts hold unsigned
// 32-bit seconds and cannot represent times before the epoch.
func (a ABI) EncodeTimestamp(hdr []byte, ts int64, unit TimestampUnit) {
	l := a.layout()
	nanos := unit.ToNanos(ts)
	sec := nanos / int64(time.Second)
	frac := nanos % int64(time.Second)
	if frac < 0 {
		frac += int64(time.Second)
		sec--
	}
	frac /= l.unit.nanos()
	if l.wide {
		l.order.PutUint64(hdr[l.secOff:], uint64(sec))
		l.order.PutUint64(hdr[l.fracOff:], uint64(frac))
		return
	}
	l.order.PutUint32(hdr[l.secOff:], uint32(sec))
	l.order.PutUint32(hdr[l.fracOff:], uint32(frac))
}

// Encode writes every field of h into hdr.
func (a ABI) Encode(hdr []byte, h Header) {
	l := a.layout()
	a.EncodeTimestamp(hdr, h.TimestampNanos, EpochNano)
	l.order.PutUint32(hdr[l.capOff:], h.CaptureLength)
	l.order.PutUint32(hdr[l.wireOff:], h.WireLength)
}
