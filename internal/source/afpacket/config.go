package afpacket

import "time"

const defaultPollTimeout = 500 * time.Millisecond

// Config configures an AF_PACKET ring.
type Config struct {
	Interface    string
	SnapLen      int
	BufferSizeMB int
	Timeout      time.Duration
	// FanoutID joins a hash fanout group when non-zero.
	FanoutID  uint16
	BPFFilter string
}
