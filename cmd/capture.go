package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/netpcap/internal/config"
)

var captureFlags struct {
	sessionFlags
	iface    string
	afpacket bool
	filter   string
	snapLen  int
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture from a network interface through the pipeline",
	Long: `Capture live traffic through the configured processors and print every
delivered frame until interrupted.

Examples:
  netpcap capture -i eth0
  netpcap capture -i eth0 -f "udp port 5060" -n 1000
  netpcap capture -i eth0 --afpacket --metrics :9091`,
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides := map[string]any{}
		if captureFlags.iface != "" {
			overrides["source.interface"] = captureFlags.iface
		}
		switch {
		case captureFlags.afpacket:
			overrides["source.type"] = config.SourceAFPacket
		case captureFlags.iface != "":
			overrides["source.type"] = config.SourceLive
		}
		if captureFlags.filter != "" {
			overrides["source.bpf_filter"] = captureFlags.filter
		}
		if captureFlags.snapLen > 0 {
			overrides["source.snap_len"] = captureFlags.snapLen
		}
		captureFlags.apply(cmd, overrides)

		cfg, err := loadConfig(overrides)
		if err != nil {
			return err
		}
		defer initLogging(cfg).Close()

		_, err = runSession(cmd.Context(), cfg, cmd.OutOrStdout())
		return err
	},
}

func init() {
	captureFlags.register(captureCmd)
	captureCmd.Flags().StringVarP(&captureFlags.iface, "interface", "i", "", "interface to capture on")
	captureCmd.Flags().BoolVar(&captureFlags.afpacket, "afpacket", false, "capture through an AF_PACKET ring (linux)")
	captureCmd.Flags().StringVarP(&captureFlags.filter, "filter", "f", "", "kernel BPF filter expression")
	captureCmd.Flags().IntVarP(&captureFlags.snapLen, "snaplen", "s", 0, "snapshot length")
}
