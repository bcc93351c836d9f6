// Package file implements an offline capture source reading pcap and pcapng
// files with pcapgo.
package file

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/netpcap/pkg/abi"
	"firestige.xyz/netpcap/pkg/pipeline"
)

// ngMagic is the pcapng section header block type.
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// packetReader is what pcapgo.Reader and pcapgo.NgReader have in common.
type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Source reads frames from a capture file. Headers are synthesized in the
// 16 byte nanosecond record layout.
type Source struct {
	path   string
	file   *os.File
	reader packetReader
	abi    abi.ABI

	brk atomic.Bool
	eof bool
}

// Open opens a pcap or pcapng file.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	s, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture file %s: %w", path, err)
	}
	s.path, s.file = path, f
	slog.Debug("capture file opened", "path", path, "link_type", s.LinkType().String())
	return s, nil
}

// NewReader reads a capture stream. The caller keeps ownership of r.
func NewReader(r io.Reader) (*Source, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}

	var pr packetReader
	if string(magic) == string(ngMagic) {
		pr, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		pr, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, err
	}
	return &Source{reader: pr, abi: abi.Offline(false, true)}, nil
}

func (s *Source) HeaderABI() abi.ABI        { return s.abi }
func (s *Source) LinkType() layers.LinkType { return s.reader.LinkType() }

// BreakLoop stops the dispatch call in flight before its next frame.
func (s *Source) BreakLoop() { s.brk.Store(true) }

// Dispatch reads up to count frames; count <= 0 reads to end of file. At end
// of file it returns the frames read so far and no error.
func (s *Source) Dispatch(count int, handler pipeline.NativeHandler, user any) (int, error) {
	defer s.brk.Store(false)

	var buf [abi.MaxHeaderSize]byte
	n := 0
	for !s.eof && (count <= 0 || n < count) {
		if s.brk.Load() {
			return n, pipeline.ErrBreakLoop
		}
		data, ci, err := s.reader.ReadPacketData()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			s.eof = true
			break
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

// Close releases the file.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
