package pipeline_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netpcap/internal/source/memory"
	"firestige.xyz/netpcap/pkg/abi"
	"firestige.xyz/netpcap/pkg/pipeline"
	"firestige.xyz/netpcap/pkg/timing"
)

var epoch = time.Unix(1_700_000_000, 0)

// MockSource is a mock capture source.
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Dispatch(count int, handler pipeline.NativeHandler, user any) (int, error) {
	args := m.Called(count, handler, user)
	return args.Int(0), args.Error(1)
}

func (m *MockSource) HeaderABI() abi.ABI        { return abi.CompactLENano }
func (m *MockSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }
func (m *MockSource) BreakLoop()                { m.Called() }

// newMemoryPipeline builds a pipeline over n one-byte frames, 1ms apart,
// whose payload is the frame index.
func newMemoryPipeline(t *testing.T, n int, opts ...timing.Option) (*pipeline.PrePipeline, *memory.Source) {
	t.Helper()
	src := memory.New(abi.CompactLENano, layers.LinkTypeEthernet)
	for i := range n {
		src.Append(epoch.Add(time.Duration(i)*time.Millisecond), []byte{byte(i)}, 0)
	}
	p, err := pipeline.New(pipeline.Config{Name: t.Name(), Source: src, StopwatchOptions: opts})
	require.NoError(t, err)
	return p, src
}

func udpFrame(t *testing.T, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	udp := &layers.UDP{SrcPort: 5060, DstPort: 5060}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

// fakeClock advances only when slept on.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
	// onSleep, when set, runs before the clock advances; an error aborts the
	// sleep.
	onSleep func(n int) error
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	if c.onSleep != nil {
		if err := c.onSleep(len(c.sleeps)); err != nil {
			return err
		}
	}
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) option() timing.Option { return timing.WithClock(c.Now, c.Sleep) }
