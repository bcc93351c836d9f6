// Package abi decodes and encodes the fixed-size per-frame capture header.
//
// Every read or write of a header field goes through an ABI descriptor; no code
// outside this package knows field offsets. The ABI is chosen once per capture
// session and never inferred from a frame.
package abi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unsafe"
)

// MaxHeaderSize is the largest header any supported layout occupies.
const MaxHeaderSize = 24

// ErrUnknownABI is returned when a layout name cannot be resolved.
var ErrUnknownABI = errors.New("netpcap: unknown header abi")

// FractionUnit is the unit of the sub-second timestamp field.
type FractionUnit int

const (
	Micro FractionUnit = iota
	Nano
)

func (u FractionUnit) nanos() int64 {
	if u == Nano {
		return 1
	}
	return 1000
}

func (u FractionUnit) String() string {
	if u == Nano {
		return "nano"
	}
	return "micro"
}

// ABI enumerates the supported header layouts.
type ABI int

const (
	// CompactLE is the 16 byte layout with 32-bit seconds and fraction, as
	// found in pcap file records and on 32-bit hosts.
	CompactLE ABI = iota
	CompactBE
	// PaddedLE is the 24 byte layout with 64-bit seconds and fraction, as
	// produced by libpcap on 64-bit hosts.
	PaddedLE
	PaddedBE
	CompactLENano
	CompactBENano
	PaddedLENano
	PaddedBENano
)

type layout struct {
	name    string
	size    int
	secOff  int
	fracOff int
	wide    bool // 64-bit seconds and fraction
	capOff  int
	wireOff int
	unit    FractionUnit
	order   binary.ByteOrder
}

var layouts = [...]layout{
	CompactLE:     {"compact-le", 16, 0, 4, false, 8, 12, Micro, binary.LittleEndian},
	CompactBE:     {"compact-be", 16, 0, 4, false, 8, 12, Micro, binary.BigEndian},
	PaddedLE:      {"padded-le", 24, 0, 8, true, 16, 20, Micro, binary.LittleEndian},
	PaddedBE:      {"padded-be", 24, 0, 8, true, 16, 20, Micro, binary.BigEndian},
	CompactLENano: {"compact-le-nano", 16, 0, 4, false, 8, 12, Nano, binary.LittleEndian},
	CompactBENano: {"compact-be-nano", 16, 0, 4, false, 8, 12, Nano, binary.BigEndian},
	PaddedLENano:  {"padded-le-nano", 24, 0, 8, true, 16, 20, Nano, binary.LittleEndian},
	PaddedBENano:  {"padded-be-nano", 24, 0, 8, true, 16, 20, Nano, binary.BigEndian},
}

// All lists every supported layout.
func All() []ABI {
	out := make([]ABI, len(layouts))
	for i := range layouts {
		out[i] = ABI(i)
	}
	return out
}

// layout panics on an unknown tag: the ABI is fixed at session setup, so a bad
// value is a programming error rather than a data error.
func (a ABI) layout() *layout {
	if a < 0 || int(a) >= len(layouts) {
		panic(fmt.Sprintf("abi: unknown header abi %d", int(a)))
	}
	return &layouts[a]
}

func (a ABI) String() string {
	if a < 0 || int(a) >= len(layouts) {
		return fmt.Sprintf("abi(%d)", int(a))
	}
	return layouts[a].name
}

// Size is the fixed header length in bytes.
func (a ABI) Size() int { return a.layout().size }

// Unit is the unit of the fraction field.
func (a ABI) Unit() FractionUnit { return a.layout().unit }

// ByteOrder is the byte order of every header field.
func (a ABI) ByteOrder() binary.ByteOrder { return a.layout().order }

// WithUnit returns the same layout with a different fraction unit.
func (a ABI) WithUnit(u FractionUnit) ABI {
	l := a.layout()
	for i := range layouts {
		c := &layouts[i]
		if c.size == l.size && c.order == l.order && c.unit == u {
			return ABI(i)
		}
	}
	return a
}

// Parse resolves a layout by name, e.g. "padded-le" or "compact-be-nano".
func Parse(name string) (ABI, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "native" || n == "" {
		return Native(), nil
	}
	for i := range layouts {
		if layouts[i].name == n {
			return ABI(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownABI, name)
}

var littleEndianHost = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// Native returns the layout libpcap uses for live headers on this host.
func Native() ABI {
	wide := unsafe.Sizeof(uintptr(0)) == 8
	switch {
	case wide && littleEndianHost:
		return PaddedLE
	case wide:
		return PaddedBE
	case littleEndianHost:
		return CompactLE
	default:
		return CompactBE
	}
}

// Offline returns the layout of a pcap file record. swapped reports a file
// written on a host of the opposite byte order.
func Offline(swapped, nano bool) ABI {
	be := littleEndianHost == swapped
	switch {
	case be && nano:
		return CompactBENano
	case be:
		return CompactBE
	case nano:
		return CompactLENano
	default:
		return CompactLE
	}
}
