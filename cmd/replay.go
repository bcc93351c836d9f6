package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/netpcap/internal/config"
)

var replayFlags struct {
	sessionFlags
	speed float64
}

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Replay a pcap or pcapng file through the pipeline",
	Long: `Replay a capture file through the configured processors and print every
delivered frame.

Examples:
  netpcap replay trace.pcap                      # print as fast as possible
  netpcap replay trace.pcapng --speed 1          # reproduce the original gaps
  netpcap replay trace.pcap -c netpcap.yaml -n 100 -r array`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides := map[string]any{
			"source.type": "file",
			"source.path": args[0],
		}
		replayFlags.apply(cmd, overrides)

		cfg, err := loadConfig(overrides)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("speed") {
			cfg.Processors = append(cfg.Processors, config.ProcessorConfig{
				Type:     "player",
				Settings: map[string]any{"speed": replayFlags.speed},
			})
		}
		defer initLogging(cfg).Close()

		_, err = runSession(cmd.Context(), cfg, cmd.OutOrStdout())
		return err
	},
}

func init() {
	replayFlags.register(replayCmd)
	replayCmd.Flags().Float64Var(&replayFlags.speed, "speed", 1, "pace frames with a player at this speed (0: unpaced)")
}
