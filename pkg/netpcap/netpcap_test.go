package netpcap

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netpcap/pkg/abi"
	"firestige.xyz/netpcap/pkg/pipeline"
	"firestige.xyz/netpcap/pkg/processor"
)

var epoch = time.Unix(1_700_000_000, 0)

func udpFrame(t *testing.T, port uint16) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(port)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload("hello")))
	return buf.Bytes()
}

// writeTrace writes one UDP frame per port, 1ms apart.
func writeTrace(t *testing.T, ports ...uint16) []byte {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for i, port := range ports {
		data := udpFrame(t, port)
		ci := gopacket.CaptureInfo{
			Timestamp:     epoch.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return out.Bytes()
}

func TestOpenOffline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.pcap")
	require.NoError(t, os.WriteFile(path, writeTrace(t, 1000, 1001, 1002), 0o644))

	h, err := OpenOffline(path, WithName("offline"))
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, layers.LinkTypeEthernet, h.LinkType())
	assert.Equal(t, "offline", h.PreProcessors().Name())

	var ports []layers.UDPPort
	n, err := h.DispatchPacket(t.Context(), pipeline.DispatchAll, func(_ any, pkt gopacket.Packet) {
		ports = append(ports, pkt.Layer(layers.LayerTypeUDP).(*layers.UDP).DstPort)
	}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, []layers.UDPPort{1000, 1001, 1002}, ports)
	assert.EqualValues(t, 3, h.Stats().Delivered)
}

func TestOpenOfflineMissing(t *testing.T) {
	_, err := OpenOffline(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)
}

func TestRepeaterThroughHandle(t *testing.T) {
	h, err := OpenOfflineReader(bytes.NewReader(writeTrace(t, 1000, 1001)))
	require.NoError(t, err)
	defer h.Close()

	rep, err := processor.NewRepeater(3)
	require.NoError(t, err)
	_, err = h.PreProcessors().AddProcessor(processor.RepeaterPriority, func() pipeline.Processor { return rep })
	require.NoError(t, err)

	var stamps []int64
	n, err := h.DispatchArray(t.Context(), 0, func(_ any, hdr abi.Header, data []byte) {
		stamps = append(stamps, hdr.TimestampNanos)
	}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)
	require.Len(t, stamps, 6)
	assert.Equal(t, epoch.UnixNano(), stamps[0])
	assert.Equal(t, epoch.Add(time.Millisecond).UnixNano(), stamps[5])
}

func TestPostProcessorsFilter(t *testing.T) {
	h, err := OpenOfflineReader(bytes.NewReader(writeTrace(t, 53, 1000, 53)))
	require.NoError(t, err)
	defer h.Close()

	bpf, err := processor.NewBPFFilter("dns", h.LinkType(), 65535, "udp port 53")
	require.NoError(t, err)
	require.NoError(t, h.PostProcessors().Add(0, bpf))

	pkt, err := h.NextPacket(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 53, pkt.Layer(layers.LayerTypeUDP).(*layers.UDP).DstPort)

	var count int
	for range h.Packets(t.Context()) {
		count++
	}
	assert.Equal(t, 1, count)
	assert.EqualValues(t, 1, h.PostProcessors().Dropped())
}

func TestPacketsStopsOnCancel(t *testing.T) {
	h, err := OpenOfflineReader(bytes.NewReader(writeTrace(t, 1, 2, 3, 4)))
	require.NoError(t, err)
	defer h.Close()

	ctx, cancel := context.WithCancel(t.Context())
	ch := h.Packets(ctx)
	<-ch
	cancel()
	for range ch {
	}
	assert.Less(t, h.Stats().Delivered, uint64(5))
}

func TestOpenDead(t *testing.T) {
	h, err := OpenDead(layers.LinkTypeLinuxSLL)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, layers.LinkTypeLinuxSLL, h.LinkType())
	_, err = h.NextPacket(t.Context())
	assert.ErrorIs(t, err, pipeline.ErrNoPacket)
}

func TestClose(t *testing.T) {
	h, err := OpenDead(layers.LinkTypeEthernet)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	_, err = h.DispatchNative(t.Context(), 1, func(any, []byte, []byte) {}, nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = h.NextPacket(t.Context())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestErrorListenerAndReassembler(t *testing.T) {
	h, err := OpenDead(layers.LinkTypeEthernet)
	require.NoError(t, err)
	defer h.Close()

	var got []error
	unregister := h.AddErrorListener(func(err error) { got = append(got, err) })
	defer unregister()

	assert.ErrorIs(t, h.SetIPReassembler(nil), pipeline.ErrNotImplemented)
	assert.Empty(t, got)
}
