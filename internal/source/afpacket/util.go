package afpacket

import "fmt"

const (
	tpacketAlignment = 16
	// tpacketHdrLen approximates TPACKET3_HDRLEN plus the sockaddr_ll.
	tpacketHdrLen = 52
	maxBlockSize  = 4 << 20
)

// ringSize is the geometry of a PACKET_MMAP ring.
type ringSize struct {
	frameSize int
	blockSize int
	numBlocks int
}

func (r ringSize) total() int { return r.blockSize * r.numBlocks }

// recomputeSize picks a ring geometry close to bufferMB that the kernel
// accepts: frames aligned to TPACKET_ALIGNMENT and large enough for snapLen,
// blocks a multiple of both the page size and the frame size.
func recomputeSize(bufferMB, snapLen, pageSize int) (ringSize, error) {
	if bufferMB <= 0 {
		return ringSize{}, fmt.Errorf("buffer size must be positive, got %d MB", bufferMB)
	}
	if snapLen <= 0 {
		return ringSize{}, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return ringSize{}, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frame := alignUp(tpacketHdrLen+snapLen, tpacketAlignment)
	block := lcm(pageSize, frame)
	if block > maxBlockSize || block < frame {
		// fall back to whole frames per block, rounded up to a page
		perBlock := max(maxBlockSize/frame, 1)
		block = alignUp(perBlock*frame, pageSize)
	}

	return ringSize{
		frameSize: frame,
		blockSize: block,
		numBlocks: max(bufferMB<<20/block, 1),
	}, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
