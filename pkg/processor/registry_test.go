package processor

import (
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netpcap/pkg/pipeline"
)

func TestBuild_Repeater(t *testing.T) {
	proc, prio, err := Build("repeater", map[string]any{
		"repeat_count":      "3",
		"ifg":               "2ms",
		"rewrite_timestamp": true,
		"timestamp_unit":    "micro",
	})
	require.NoError(t, err)
	assert.Equal(t, RepeaterPriority, prio)

	r, ok := proc.(*Repeater)
	require.True(t, ok)
	s := r.Settings()
	assert.Equal(t, int64(3), s.RepeatCount)
	assert.Equal(t, 2*time.Millisecond, s.Ifg)
	assert.True(t, s.RewriteTimestamp)
	assert.Equal(t, "micro", s.TimestampUnit)
}

func TestBuild_Defaults(t *testing.T) {
	proc, _, err := Build("repeater", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), proc.(*Repeater).Settings().RepeatCount)

	proc, prio, err := Build("player", map[string]any{"speed": 0.5})
	require.NoError(t, err)
	assert.Equal(t, PlayerPriority, prio)
	s := proc.(*Player).Settings()
	assert.True(t, s.Sync)
	assert.Equal(t, 0.5, s.Speed)

	proc, prio, err = Build("delay", map[string]any{"delay": "250us"})
	require.NoError(t, err)
	assert.Equal(t, DelayPriority, prio)
	assert.Equal(t, 250*time.Microsecond, proc.(*Delay).Delay())
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		settings map[string]any
	}{
		{"unknown type", "shaper", nil},
		{"unknown key", "repeater", map[string]any{"repeats": 2}},
		{"negative count", "repeater", map[string]any{"repeat_count": -1}},
		{"bad unit", "repeater", map[string]any{"timestamp_unit": "fortnight"}},
		{"negative speed", "player", map[string]any{"speed": -2}},
		{"bad duration", "delay", map[string]any{"delay": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Build(tt.kind, tt.settings)
			assert.ErrorIs(t, err, pipeline.ErrInvalidConfig)
		})
	}
}

func TestRegister(t *testing.T) {
	Register("noop", func(map[string]any) (pipeline.Processor, int, error) {
		return pipeline.ProcessorFunc{ID: "noop", Fn: func(dc *pipeline.DispatchContext, h, d []byte, next pipeline.NextFunc) int {
			return next(dc, h, d)
		}}, 5, nil
	})
	assert.Contains(t, Types(), "noop")

	proc, prio, err := Build("noop", nil)
	require.NoError(t, err)
	assert.Equal(t, "noop", proc.Name())
	assert.Equal(t, 5, prio)
}

func TestLayerFilter(t *testing.T) {
	pp, err := BuildPost("layer", "sip-ports", layers.LinkTypeEthernet, map[string]any{"layers": []string{"TCP", "udp"}})
	require.NoError(t, err)
	assert.Equal(t, "sip-ports", pp.Name())

	udp := gopacket.NewPacket(udpFrame(t), layers.LinkTypeEthernet, gopacket.Default)
	arp := gopacket.NewPacket([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0, 1, 2, 3, 4, 5, 0x08, 0x06}, layers.LinkTypeEthernet, gopacket.Default)
	assert.True(t, pp.ProcessPacket(udp))
	assert.False(t, pp.ProcessPacket(arp))
	assert.Equal(t, uint64(1), pp.(*LayerFilter).Passed())

	_, err = NewLayerFilter("bad", "NoSuchLayer")
	assert.ErrorIs(t, err, pipeline.ErrInvalidConfig)
	_, err = NewLayerFilter("empty")
	assert.ErrorIs(t, err, pipeline.ErrInvalidConfig)
}

func TestDecodeErrorFilter(t *testing.T) {
	pp, err := BuildPost("decode_error", "", layers.LinkTypeEthernet, nil)
	require.NoError(t, err)

	good := gopacket.NewPacket(udpFrame(t), layers.LinkTypeEthernet, gopacket.Default)
	bad := gopacket.NewPacket(udpFrame(t)[:20], layers.LinkTypeEthernet, gopacket.Default)
	assert.True(t, pp.ProcessPacket(good))
	assert.False(t, pp.ProcessPacket(bad))
	assert.Equal(t, uint64(1), pp.(*DecodeErrorFilter).Dropped())

	_, err = BuildPost("nope", "", layers.LinkTypeEthernet, nil)
	assert.ErrorIs(t, err, pipeline.ErrInvalidConfig)
}

func TestBPFFilter(t *testing.T) {
	pp, err := BuildPost("bpf", "sip", layers.LinkTypeEthernet, map[string]any{"expression": "udp dst port 9999"})
	require.NoError(t, err)
	assert.Equal(t, "udp dst port 9999", pp.(*BPFFilter).Expression())

	assert.True(t, pp.ProcessPacket(gopacket.NewPacket(udpFrame(t), layers.LinkTypeEthernet, gopacket.Default)))
	arp := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0, 1, 2, 3, 4, 5, 0x08, 0x06, 0, 1, 8, 0, 6, 4, 0, 1}
	assert.False(t, pp.ProcessPacket(gopacket.NewPacket(arp, layers.LinkTypeEthernet, gopacket.Default)))

	_, err = NewBPFFilter("broken", layers.LinkTypeEthernet, 0, "udp port")
	assert.ErrorIs(t, err, pipeline.ErrInvalidConfig)
}
