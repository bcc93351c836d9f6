// Package live implements a capture source on a network interface through
// libpcap.
package live

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/netpcap/pkg/abi"
	"firestige.xyz/netpcap/pkg/pipeline"
)

// Config configures a live capture.
type Config struct {
	Interface    string
	SnapLen      int
	Promiscuous  bool
	Immediate    bool
	Timeout      time.Duration
	BufferSizeMB int
	BPFFilter    string
}

// Source captures from an activated libpcap handle. A dispatch call returns
// early when the read timeout expires, like pcap_dispatch.
type Source struct {
	iface  string
	handle *pcap.Handle
	abi    abi.ABI

	brk atomic.Bool
}

// Open activates a capture handle on cfg.Interface.
func Open(cfg Config) (*Source, error) {
	inactive, err := pcap.NewInactiveHandle(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("failed to create handle on %s: %w", cfg.Interface, err)
	}
	defer inactive.CleanUp()

	if err := configure(inactive, cfg); err != nil {
		return nil, fmt.Errorf("failed to configure handle on %s: %w", cfg.Interface, err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("failed to activate handle on %s: %w", cfg.Interface, err)
	}

	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set bpf filter %q: %w", cfg.BPFFilter, err)
		}
	}

	slog.Info("live capture opened",
		"interface", cfg.Interface,
		"snap_len", cfg.SnapLen,
		"link_type", handle.LinkType().String(),
		"bpf_filter", cfg.BPFFilter)
	return &Source{iface: cfg.Interface, handle: handle, abi: abi.Native()}, nil
}

func configure(h *pcap.InactiveHandle, cfg Config) error {
	if err := h.SetSnapLen(cfg.SnapLen); err != nil {
		return err
	}
	if err := h.SetPromisc(cfg.Promiscuous); err != nil {
		return err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = pcap.BlockForever
	}
	if err := h.SetTimeout(timeout); err != nil {
		return err
	}
	if cfg.BufferSizeMB > 0 {
		if err := h.SetBufferSize(cfg.BufferSizeMB * 1024 * 1024); err != nil {
			return err
		}
	}
	if cfg.Immediate {
		return h.SetImmediateMode(true)
	}
	return nil
}

func (s *Source) HeaderABI() abi.ABI        { return s.abi }
func (s *Source) LinkType() layers.LinkType { return s.handle.LinkType() }

// BreakLoop stops the dispatch call in flight once the current read returns.
func (s *Source) BreakLoop() { s.brk.Store(true) }

// Dispatch reads up to count frames, or until the read timeout when count <= 0.
func (s *Source) Dispatch(count int, handler pipeline.NativeHandler, user any) (int, error) {
	defer s.brk.Store(false)

	var buf [abi.MaxHeaderSize]byte
	n := 0
	for count <= 0 || n < count {
		if s.brk.Load() {
			return n, pipeline.ErrBreakLoop
		}
		data, ci, err := s.handle.ZeroCopyReadPacketData()
		switch {
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			return n, nil
		case errors.Is(err, pcap.NextErrorNoMorePackets), errors.Is(err, io.EOF):
			return n, nil
		case err != nil:
			return n, err
		}

		hdr := buf[:s.abi.Size()]
		s.abi.Encode(hdr, abi.Header{
			TimestampNanos: ci.Timestamp.UnixNano(),
			CaptureLength:  uint32(ci.CaptureLength),
			WireLength:     uint32(ci.Length),
		})
		handler(user, hdr, data)
		n++
	}
	return n, nil
}

// Stats returns the kernel's receive and drop counters.
func (s *Source) Stats() (*pcap.Stats, error) {
	return s.handle.Stats()
}

// Close releases the handle.
func (s *Source) Close() error {
	s.handle.Close()
	slog.Debug("live capture closed", "interface", s.iface)
	return nil
}

// Device describes a capture interface.
type Device struct {
	Name        string
	Description string
	Addresses   []string
}

// Devices lists the interfaces libpcap can open.
func Devices() ([]Device, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(ifs))
	for _, i := range ifs {
		d := Device{Name: i.Name, Description: i.Description}
		for _, a := range i.Addresses {
			d.Addresses = append(d.Addresses, a.IP.String())
		}
		out = append(out, d)
	}
	return out, nil
}
