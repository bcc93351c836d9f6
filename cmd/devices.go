package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/netpcap/internal/source/live"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List interfaces available for capture",
	RunE: func(cmd *cobra.Command, args []string) error {
		devs, err := live.Devices()
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}
		printDevices(cmd.OutOrStdout(), devs)
		return nil
	},
}

func printDevices(out io.Writer, devs []live.Device) {
	for _, d := range devs {
		fmt.Fprintf(out, "%-16s %s\n", d.Name, strings.Join(d.Addresses, ","))
		if d.Description != "" {
			fmt.Fprintf(out, "%-16s %s\n", "", d.Description)
		}
	}
}
