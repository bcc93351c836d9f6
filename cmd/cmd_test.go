package cmd

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netpcap/internal/config"
	"firestige.xyz/netpcap/internal/source/live"
)

func writeTrace(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 9999}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		eth, ip, udp, gopacket.Payload("hello")))

	start := time.Unix(1_700_000_000, 0)
	for i := range frames {
		data := buf.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Microsecond),
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	return path
}

func TestReplayCommand(t *testing.T) {
	trace := writeTrace(t, 4)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"replay", trace, "-n", "3", "-r", "array"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, Execute())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "len 47/47")
}

func TestValidateConfig(t *testing.T) {
	cfg, err := config.LoadWithOverrides("", map[string]any{"source.path": "trace.pcap"})
	require.NoError(t, err)
	cfg.Processors = []config.ProcessorConfig{
		{Type: "repeater", Settings: map[string]any{"repeat_count": 2}},
	}

	var out bytes.Buffer
	require.NoError(t, validateConfig(cfg, &out))
	assert.Contains(t, out.String(), "VALID: file source, 1 processor(s), 0 post-processor(s)")
	assert.Contains(t, out.String(), "netpcap:")
	assert.Contains(t, out.String(), "path: trace.pcap")

	cfg.Processors[0].Settings = map[string]any{"repeat_count": -3}
	assert.Error(t, validateConfig(cfg, &bytes.Buffer{}))
}

func TestSessionFlags(t *testing.T) {
	var f sessionFlags
	cmd := &cobra.Command{Use: "x"}
	f.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"-n", "5", "-r", "native", "--metrics", "127.0.0.1:0"}))

	overrides := map[string]any{}
	f.apply(cmd, overrides)
	assert.Equal(t, map[string]any{
		"dispatch.count":          int64(5),
		"dispatch.representation": "native",
		"metrics.enabled":         true,
		"metrics.listen":          "127.0.0.1:0",
	}, overrides)
}

func TestPrintDevices(t *testing.T) {
	var out bytes.Buffer
	printDevices(&out, []live.Device{
		{Name: "eth0", Description: "uplink", Addresses: []string{"10.0.0.1", "fe80::1"}},
		{Name: "lo"},
	})
	assert.Equal(t, "eth0             10.0.0.1,fe80::1\n                 uplink\nlo               \n", out.String())
}
