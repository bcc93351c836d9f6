// Package memory implements a capture source over frames held in memory. It
// backs dead handles and tests.
package memory

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/layers"

	"firestige.xyz/netpcap/pkg/abi"
	"firestige.xyz/netpcap/pkg/pipeline"
)

// Frame is one stored frame.
type Frame struct {
	Timestamp  time.Time
	Data       []byte
	WireLength int
}

// Source replays its frames in order. Each frame is consumed once.
type Source struct {
	abi      abi.ABI
	linkType layers.LinkType

	mu      sync.Mutex
	frames  []Frame
	pos     int
	failAt  int
	failErr error

	brk atomic.Bool
}

// New creates an empty source producing headers in layout a.
func New(a abi.ABI, linkType layers.LinkType) *Source {
	return &Source{abi: a, linkType: linkType, failAt: -1}
}

// Append adds a frame. A zero WireLength means len(data).
func (s *Source) Append(ts time.Time, data []byte, wireLen int) {
	if wireLen == 0 {
		wireLen = len(data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, Frame{Timestamp: ts, Data: data, WireLength: wireLen})
}

// FailAt makes the dispatch call that reaches frame index i return err instead
// of delivering it.
func (s *Source) FailAt(i int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt, s.failErr = i, err
}

// Remaining is the number of frames not yet dispatched.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames) - s.pos
}

// Rewind makes every frame available again.
func (s *Source) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
}

func (s *Source) HeaderABI() abi.ABI        { return s.abi }
func (s *Source) LinkType() layers.LinkType { return s.linkType }

// BreakLoop makes the dispatch call in flight return ErrBreakLoop before its
// next frame.
func (s *Source) BreakLoop() { s.brk.Store(true) }

// Dispatch hands up to count frames to handler; count <= 0 drains. The lock
// is not held while handler runs, so handlers may dispatch again.
func (s *Source) Dispatch(count int, handler pipeline.NativeHandler, user any) (int, error) {
	defer s.brk.Store(false)

	var buf [abi.MaxHeaderSize]byte
	n := 0
	for count <= 0 || n < count {
		if s.brk.Load() {
			return n, pipeline.ErrBreakLoop
		}
		f, ok, err := s.next()
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}

		hdr := buf[:s.abi.Size()]
		s.abi.Encode(hdr, abi.Header{
			TimestampNanos: f.Timestamp.UnixNano(),
			CaptureLength:  uint32(len(f.Data)),
			WireLength:     uint32(f.WireLength),
		})
		handler(user, hdr, f.Data)
		n++
	}
	return n, nil
}

func (s *Source) next() (Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos == s.failAt {
		s.failAt = -1
		return Frame{}, false, s.failErr
	}
	if s.pos >= len(s.frames) {
		return Frame{}, false, nil
	}
	f := s.frames[s.pos]
	s.pos++
	return f, true, nil
}
