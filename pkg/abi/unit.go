package abi

import (
	"fmt"
	"strings"
	"time"
)

// TimestampUnit is the unit a timestamp value is expressed in.
type TimestampUnit int

const (
	EpochNano TimestampUnit = iota
	EpochMicro
	EpochMilli
)

func (u TimestampUnit) scale() int64 {
	switch u {
	case EpochMicro:
		return int64(time.Microsecond)
	case EpochMilli:
		return int64(time.Millisecond)
	default:
		return 1
	}
}

// ToNanos converts v, expressed in u, to nanoseconds.
func (u TimestampUnit) ToNanos(v int64) int64 { return v * u.scale() }

// FromNanos converts nanoseconds to u, truncating.
func (u TimestampUnit) FromNanos(ns int64) int64 { return ns / u.scale() }

func (u TimestampUnit) String() string {
	switch u {
	case EpochMicro:
		return "micro"
	case EpochMilli:
		return "milli"
	default:
		return "nano"
	}
}

// ParseTimestampUnit resolves "nano", "micro" or "milli".
func ParseTimestampUnit(s string) (TimestampUnit, error) {
	switch strings.ToLower(s) {
	case "", "nano", "ns":
		return EpochNano, nil
	case "micro", "us":
		return EpochMicro, nil
	case "milli", "ms":
		return EpochMilli, nil
	}
	return 0, fmt.Errorf("unknown timestamp unit %q", s)
}
