package afpacket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecomputeSize(t *testing.T) {
	tests := []struct {
		name     string
		bufferMB int
		snapLen  int
		pageSize int
	}{
		{"default snaplen", 32, 262144, 4096},
		{"small frames", 8, 1500, 4096},
		{"jumbo", 64, 9000, 4096},
		{"large pages", 16, 65535, 65536},
		{"tiny buffer", 1, 262144, 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := recomputeSize(tt.bufferMB, tt.snapLen, tt.pageSize)
			require.NoError(t, err)

			assert.Zero(t, r.frameSize%tpacketAlignment, "frame aligned")
			assert.GreaterOrEqual(t, r.frameSize, tt.snapLen+tpacketHdrLen)
			assert.Zero(t, r.blockSize%tt.pageSize, "block page aligned")
			assert.GreaterOrEqual(t, r.blockSize, r.frameSize)
			assert.GreaterOrEqual(t, r.numBlocks, 1)
		})
	}
}

func TestRecomputeSizeLCM(t *testing.T) {
	// 1500+52 aligns to 1552; lcm(4096, 1552) = 397312
	r, err := recomputeSize(32, 1500, 4096)
	require.NoError(t, err)
	assert.Equal(t, 1552, r.frameSize)
	assert.Equal(t, 397312, r.blockSize)
	assert.Zero(t, r.blockSize%r.frameSize)
	assert.Equal(t, 32<<20/397312, r.numBlocks)
	assert.LessOrEqual(t, r.total(), 32<<20)
}

func TestRecomputeSizeInvalid(t *testing.T) {
	for _, tt := range []struct {
		name                        string
		bufferMB, snapLen, pageSize int
	}{
		{"zero buffer", 0, 1500, 4096},
		{"negative snaplen", 8, -1, 4096},
		{"misaligned page", 8, 1500, 4095},
		{"zero page", 8, 1500, 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := recomputeSize(tt.bufferMB, tt.snapLen, tt.pageSize)
			assert.Error(t, err)
		})
	}
}

func TestGCDLCM(t *testing.T) {
	assert.Equal(t, 4, gcd(12, 8))
	assert.Equal(t, 24, lcm(12, 8))
	assert.Equal(t, 0, lcm(0, 8))
}
