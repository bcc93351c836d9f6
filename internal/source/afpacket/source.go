//go:build linux

// Package afpacket implements a live capture source on a Linux TPACKET_V3
// memory mapped ring.
package afpacket

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netpcap/internal/utils"
	"firestige.xyz/netpcap/pkg/abi"
	"firestige.xyz/netpcap/pkg/pipeline"
)

// Source reads frames from an AF_PACKET ring.
type Source struct {
	handle *afpacket.TPacket
	abi    abi.ABI

	device string
	ring   ringSize

	brk atomic.Bool
}

// Open creates the ring on cfg.Interface, joins the fanout group and attaches
// the filter when configured.
func Open(cfg Config) (*Source, error) {
	ring, err := recomputeSize(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrInvalidConfig, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(ring.frameSize),
		afpacket.OptBlockSize(ring.blockSize),
		afpacket.OptNumBlocks(ring.numBlocks),
		afpacket.OptPollTimeout(timeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open ring on %s: %w", cfg.Interface, err)
	}

	s := &Source{handle: tp, abi: abi.Native(), device: cfg.Interface, ring: ring}
	if cfg.FanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, cfg.FanoutID); err != nil {
			tp.Close()
			return nil, fmt.Errorf("failed to join fanout group %d: %w", cfg.FanoutID, err)
		}
	}
	if cfg.BPFFilter != "" {
		prog, err := utils.CompileBPF(layers.LinkTypeEthernet, ring.frameSize, cfg.BPFFilter)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(prog); err != nil {
			tp.Close()
			return nil, fmt.Errorf("failed to attach bpf filter %q: %w", cfg.BPFFilter, err)
		}
	}

	slog.Info("afpacket ring opened",
		"interface", cfg.Interface,
		"frame_size", ring.frameSize,
		"block_size", ring.blockSize,
		"num_blocks", ring.numBlocks,
		"fanout_id", cfg.FanoutID)
	return s, nil
}

func (s *Source) HeaderABI() abi.ABI { return s.abi }

// LinkType is always Ethernet; the socket is opened raw.
func (s *Source) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (s *Source) BreakLoop() { s.brk.Store(true) }

// Dispatch reads up to count frames, or until the poll timeout when count <= 0.
func (s *Source) Dispatch(count int, handler pipeline.NativeHandler, user any) (int, error) {
	defer s.brk.Store(false)

	var buf [abi.MaxHeaderSize]byte
	n := 0
	for count <= 0 || n < count {
		if s.brk.Load() {
			return n, pipeline.ErrBreakLoop
		}
		data, ci, err := s.handle.ZeroCopyReadPacketData()
		if errors.Is(err, afpacket.ErrTimeout) {
			return n, nil
		}
		if err != nil {
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

// Stats returns the ring's packet and drop counters.
func (s *Source) Stats() (afpacket.SocketStatsV3, error) {
	_, st, err := s.handle.SocketStats()
	return st, err
}

func (s *Source) Close() error {
	s.handle.Close()
	slog.Debug("afpacket ring closed", "interface", s.device)
	return nil
}
