package source

import (
	"path/filepath"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netpcap/internal/config"
	"firestige.xyz/netpcap/pkg/pipeline"
)

func TestParseLinkType(t *testing.T) {
	tests := []struct {
		in   string
		want layers.LinkType
	}{
		{"", layers.LinkTypeEthernet},
		{"Ethernet", layers.LinkTypeEthernet},
		{"ethernet", layers.LinkTypeEthernet},
		{"linux_sll", layers.LinkTypeLinuxSLL},
		{"Raw", layers.LinkTypeRaw},
		{"113", layers.LinkTypeLinuxSLL},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lt, err := ParseLinkType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, lt)
		})
	}

	_, err := ParseLinkType("token-ring-over-carrier-pigeon")
	assert.ErrorIs(t, err, pipeline.ErrInvalidConfig)
	_, err = ParseLinkType("300")
	assert.ErrorIs(t, err, pipeline.ErrInvalidConfig)
}

func TestOpenDead(t *testing.T) {
	src, err := Open(config.SourceConfig{Type: config.SourceDead, LinkType: "linux_sll"})
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, layers.LinkTypeLinuxSLL, src.LinkType())

	n, err := src.Dispatch(-1, func(any, []byte, []byte) { t.Fatal("dead source delivered a frame") }, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(config.SourceConfig{Type: "carrier-pigeon"})
	assert.ErrorIs(t, err, pipeline.ErrInvalidConfig)

	_, err = Open(config.SourceConfig{Type: config.SourceFile, Path: filepath.Join(t.TempDir(), "missing.pcap")})
	assert.Error(t, err)

	_, err = Open(config.SourceConfig{Type: config.SourceDead, LinkType: "nope"})
	assert.ErrorIs(t, err, pipeline.ErrInvalidConfig)
}
